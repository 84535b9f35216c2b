package engine

import "github.com/prometheus/client_golang/prometheus"

// Alteration classifications used as metric labels and in logs.
const (
	ClassCreate         = "create"
	ClassScalarScalar   = "scalar_to_scalar"
	ClassScalarRef      = "scalar_to_reference"
	ClassRefScalar      = "reference_to_scalar"
	ClassRefRef         = "reference_to_reference"
	ClassDelete         = "delete"
	ClassReverseRepair  = "reverse_repair"
	ClassColumnReassign = "column_reassign"
)

var AlterationCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "flexi",
	Name:      "alterations_total",
	Help:      "Property alterations applied, by classification.",
}, []string{"classification"})

var AnomalyCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "flexi",
	Name:      "anomalies_total",
	Help:      "Recoverable anomalies recorded, by kind.",
}, []string{"kind"})

var RowsRewritten = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "flexi",
	Name:      "rows_rewritten_total",
	Help:      "Stored value rows rewritten by alterations.",
})

// Collectors returns the engine metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{AlterationCount, AnomalyCount, RowsRewritten}
}
