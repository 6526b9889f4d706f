// Package exporter writes the reconciled fact table for the downstream
// modeling consumers.
//
// CSVWriter: core CSV writing with headers, streaming, and UTF-8 BOM
// for Excel compatibility.
//
// ReconciledExporter: renders ReconciledRow sets to timestamped CSV
// files and to an Excel workbook with a data sheet and a diagnostics
// summary sheet.
package exporter
