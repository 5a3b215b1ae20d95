// Package registry holds the train station registry: the data model, the
// goroutine-safe Service that owns it, and the JSON snapshot format it is
// persisted in.
//
// # Model
//
// A Registry maps unique station names to a Station, each carrying an ordered
// schedule of ScheduleEntry values. Updates replace a station's whole schedule;
// there is no entry-level merge or dedup.
//
// # Snapshot format
//
//	{
//	  "version": 1,
//	  "train_stations": [
//	    {"name": "Central", "schedule": {"entries": [
//	      {"time_left": 45, "train_name": "Express", "train_destination": "Boston"},
//	      {"time_left": null, "train_name": "Local", "train_destination": "Quincy"}
//	    ]}}
//	  ]
//	}
//
// Decode is strict and all-or-nothing. The snapshot file is read once at
// startup (ReadSnapshotFile) and written once at shutdown (WriteSnapshotFile,
// temp file + rename).
//
// # Concurrency
//
// Service serializes writers behind a sync.RWMutex and lets readers copy out
// under the shared lock. Critical sections are in-memory only, so slow clients
// or disks never hold the lock.
package registry
