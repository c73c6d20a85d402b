// Package project manages the lifecycle of NoC projects on disk.
//
// A project is a (location, name) pair. Its files live directly in the
// location directory:
//
//	<location>/
//	├── <name>_metadata.json               ← pipeline state sidecar
//	├── <name>_graph_object_serialized.json
//	└── <name>_NoC_description/            ← generated Verilog
//
// Four actions are supported: create, open, erase and rename. Local applies
// them directly to the file system; External delegates them to a
// project-manager executable invoked as `<tool> -l <location> -n <name>
// -c|-o|-e|-r <new-name>`.
package project
