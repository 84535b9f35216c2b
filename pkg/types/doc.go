// Package types defines the class and property definition model, the
// incoming schema format, the action report, configuration, and the standard
// errors of the Flexi storage engine.
package types
