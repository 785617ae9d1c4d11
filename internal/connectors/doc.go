// Package connectors wires the source adapters into an AdapterFactory.
//
// Each subpackage adapts one kind of source to driven.SourceAdapter:
//
//	sqlwarehouse  SQL databases (type "sql")
//	github        GitHub issues ("github") and wikis ("wiki")
//	files         local directories ("files")
//	vector        embedding stores ("vector")
//	index         bleve indexes, including the central index ("index")
//
// NewDefaultFactory registers all of them. Further types can be added
// with Register before the factory is handed to the services.
package connectors
