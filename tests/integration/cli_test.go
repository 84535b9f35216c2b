// CLI integration tests for flexi. Each test drives the built binary and
// reads or writes objects through the generated views with a separate
// database connection.
package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// TestMain builds the flexi binary once before running tests.
func TestMain(m *testing.M) {
	projectRoot, err := FindProjectRoot()
	if err != nil {
		buildErr = err
		os.Exit(1)
	}

	tmpDir, err := os.MkdirTemp("", "flexi-test-*")
	if err != nil {
		buildErr = err
		os.Exit(1)
	}
	flexiBin = filepath.Join(tmpDir, "flexi")

	cmd := exec.Command("go", "build", "-o", flexiBin, "./cmd/flexi")
	cmd.Dir = projectRoot
	if output, err := cmd.CombinedOutput(); err != nil {
		buildErr = &BuildError{Err: err, Output: string(output)}
		os.Exit(1)
	}

	code := m.Run()
	os.RemoveAll(tmpDir)
	os.Exit(code)
}

const companySchema = `
Department:
  properties:
    Code: {type: string, role: code, unique: true}
    Title: {type: string, size: 40}
Employee:
  properties:
    Name: {type: string, required: true}
    Dept: {type: string}
`

func setupCompany(t *testing.T) *TestEnv {
	t.Helper()
	env := NewTestEnv(t)
	env.MustRunFlexi("init")
	env.MustRunFlexi("sync", env.WriteFile("schema.yaml", companySchema))

	env.Exec(`INSERT INTO "Department" ("Code", "Title") VALUES ('ENG', 'Engineering')`)
	env.Exec(`INSERT INTO "Department" ("Code", "Title") VALUES ('OPS', 'Operations')`)
	for _, row := range [][2]string{{"ann", "ENG"}, {"bob", "OPS"}, {"cid", "XXX"}} {
		env.Exec(`INSERT INTO "Employee" ("Name", "Dept") VALUES (?, ?)`, row[0], row[1])
	}
	return env
}

// departmentID returns the object id of the department with the given code.
func departmentID(t *testing.T, env *TestEnv, code string) int64 {
	t.Helper()
	var id int64
	if err := env.OpenDB().QueryRow(`SELECT "$id" FROM "Department" WHERE "Code" = ?`, code).Scan(&id); err != nil {
		t.Fatalf("department %s: %v", code, err)
	}
	return id
}

func TestInit(t *testing.T) {
	env := NewTestEnv(t)

	result := env.MustRunFlexi("init")
	if !strings.Contains(result.Stdout, "Flexi initialized") {
		t.Errorf("unexpected init output: %q", result.Stdout)
	}
	if _, err := os.Stat(filepath.Join(env.DataDir, "flexi.db")); err != nil {
		t.Errorf("database not created: %v", err)
	}
}

func TestSync_CreatesViews(t *testing.T) {
	env := setupCompany(t)

	var n int
	if err := env.OpenDB().QueryRow(`SELECT count(*) FROM "Employee"`).Scan(&n); err != nil {
		t.Fatalf("count employees: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 employees, got %d", n)
	}

	cls := ParseJSON[Class](t, env.MustRunFlexi("--json", "class", "show", "Department").Stdout)
	if len(cls.Properties) != 2 {
		t.Fatalf("expected 2 properties, got %d", len(cls.Properties))
	}
	for _, p := range cls.Properties {
		if p.Column < 0 {
			t.Errorf("property %s has no slot column", p.Name)
		}
	}
}

func TestViews_EnforceConstraints(t *testing.T) {
	env := setupCompany(t)
	db := env.OpenDB()

	_, err := db.Exec(`INSERT INTO "Department" ("Code", "Title") VALUES ('ENG', 'Duplicate')`)
	if err == nil || !strings.Contains(err.Error(), "must be unique") {
		t.Errorf("expected unique violation, got %v", err)
	}
	_, err = db.Exec(`INSERT INTO "Department" ("Code", "Title") VALUES ('QA', ?)`, strings.Repeat("x", 41))
	if err == nil || !strings.Contains(err.Error(), "exceeds 40 characters") {
		t.Errorf("expected length violation, got %v", err)
	}
	_, err = db.Exec(`INSERT INTO "Employee" ("Dept") VALUES ('ENG')`)
	if err == nil || !strings.Contains(err.Error(), "is required") {
		t.Errorf("expected required violation, got %v", err)
	}
}

func TestPropertyAlter_ScalarToReference(t *testing.T) {
	env := setupCompany(t)

	report := ParseJSON[Report](t, env.MustRunFlexi("--json", "property", "alter", "Employee", "Dept",
		"--type", "link", "--target", "Department").Stdout)

	var invalid int
	for _, e := range report.Entries {
		if e.Kind == "invalid_reference" {
			invalid += e.Rows
		}
	}
	if invalid != 1 {
		t.Errorf("expected 1 unresolved row, got %d (%+v)", invalid, report.Entries)
	}

	db := env.OpenDB()
	for name, code := range map[string]string{"ann": "ENG", "bob": "OPS"} {
		var dept int64
		if err := db.QueryRow(`SELECT "Dept" FROM "Employee" WHERE "Name" = ?`, name).Scan(&dept); err != nil {
			t.Fatalf("dept of %s: %v", name, err)
		}
		if want := departmentID(t, env, code); dept != want {
			t.Errorf("%s: expected department %d, got %d", name, want, dept)
		}
	}

	cls := ParseJSON[Class](t, env.MustRunFlexi("--json", "class", "show", "Employee").Stdout)
	const hasInvalidRefs = int64(1) << 50
	if cls.Ctlo&hasInvalidRefs == 0 {
		t.Errorf("expected invalid-reference flag on Employee, ctlo=%#x", cls.Ctlo)
	}

	// Converting back substitutes the department code.
	env.MustRunFlexi("property", "alter", "Employee", "Dept", "--type", "string")
	var code string
	if err := db.QueryRow(`SELECT "Dept" FROM "Employee" WHERE "Name" = 'ann'`).Scan(&code); err != nil {
		t.Fatalf("dept of ann: %v", err)
	}
	if code != "ENG" {
		t.Errorf("expected ENG, got %q", code)
	}
}

func TestPropertyAlter_RejectsRetarget(t *testing.T) {
	env := setupCompany(t)
	env.MustRunFlexi("class", "create", "Site")
	env.MustRunFlexi("property", "alter", "Employee", "Dept", "--type", "link", "--target", "Department")

	result := env.RunFlexi("property", "alter", "Employee", "Dept", "--type", "link", "--target", "Site")
	if result.ExitCode != 1 {
		t.Fatalf("expected exit code 1, got %d (stderr %q)", result.ExitCode, result.Stderr)
	}
	if !strings.Contains(result.Stderr, "unsupported alteration") {
		t.Errorf("unexpected stderr: %q", result.Stderr)
	}
}

func TestPropertyDelete_ReportsOrphans(t *testing.T) {
	env := setupCompany(t)

	report := ParseJSON[Report](t, env.MustRunFlexi("--json", "property", "delete", "Employee", "Dept").Stdout)
	if len(report.Entries) != 1 || report.Entries[0].Kind != "property_orphaned" || report.Entries[0].Rows != 3 {
		t.Errorf("unexpected report: %+v", report.Entries)
	}

	_, err := env.OpenDB().Exec(`SELECT "Dept" FROM "Employee"`)
	if err == nil {
		t.Error("expected the view to drop the deleted property")
	}
}

func TestClassRename_MovesView(t *testing.T) {
	env := setupCompany(t)
	env.MustRunFlexi("class", "rename", "Employee", "Person")

	db := env.OpenDB()
	var n int
	if err := db.QueryRow(`SELECT count(*) FROM "Person"`).Scan(&n); err != nil {
		t.Fatalf("count persons: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 persons, got %d", n)
	}
	if _, err := db.Exec(`SELECT * FROM "Employee"`); err == nil {
		t.Error("expected the old view to be gone")
	}
}

func TestExport(t *testing.T) {
	env := setupCompany(t)

	outDir := filepath.Join(env.TempDir, "export")
	env.MustRunFlexi("export", outDir)

	classes := ReadJSONLFile[ExportedClass](t, filepath.Join(outDir, "classes.jsonl"))
	if len(classes) != 2 {
		t.Fatalf("expected 2 exported classes, got %d", len(classes))
	}
	names := map[string]bool{}
	for _, c := range classes {
		names[c.Name] = true
		if len(c.Ctlv) == 0 {
			t.Errorf("class %s exported without ctlv", c.Name)
		}
	}
	if !names["Department"] || !names["Employee"] {
		t.Errorf("unexpected classes: %v", names)
	}
}

func TestExitCodes(t *testing.T) {
	env := NewTestEnv(t)
	env.MustRunFlexi("init")

	result := env.RunFlexi("class", "show", "Missing")
	if result.ExitCode != 1 {
		t.Errorf("expected exit code 1, got %d", result.ExitCode)
	}
	if !strings.Contains(result.Stderr, "class not found") {
		t.Errorf("unexpected stderr: %q", result.Stderr)
	}

	result = env.RunFlexi("sync", filepath.Join(env.TempDir, "missing.yaml"))
	if result.ExitCode != 2 {
		t.Errorf("expected exit code 2 for unreadable schema, got %d", result.ExitCode)
	}
}
