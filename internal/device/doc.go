// Package device provides the device registry of the remote lab.
//
// A device is a logical entry for a physical board. It is either bare, or
// toolchain-configured with a board type and a firmware project directory that
// the toolchain package builds, uploads, initialises and cleans.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────┐
//	│                        Device Registry                        │
//	│                                                               │
//	│  ┌──────────────────┐        ┌─────────────────────────────┐  │
//	│  │     Registry     │        │        Store (iface)        │  │
//	│  │  (registry.go)   │───────▶│         (store.go)          │  │
//	│  │                  │        │                             │  │
//	│  │ • construction   │        │ • MemoryStore  (RWMutex)    │  │
//	│  │   rules          │        │ • SQLiteStore  (devices)    │  │
//	│  │ • strict mode    │        │ • BoltStore    (bbolt file) │  │
//	│  └──────────────────┘        └─────────────────────────────┘  │
//	└──────────────────────────────────────────────────────────────┘
//
// # Copy semantics
//
// Every store owns its canonical records. Create, FindByID and List hand out
// copies (see Device.Clone), so mutating a returned Device, including the
// strings behind BoardType and ProjectPath, never changes stored state.
//
// # Usage
//
//	registry := device.NewRegistry(device.NewMemoryStore())
//	registry.SetLogger(log)
//
//	boardType, path := "esp32dev", "/srv/lab/blink"
//	dev, err := registry.Create(ctx, device.CreateParams{
//	    Name:        "bench-1",
//	    BoardID:     "esp32dev",
//	    BoardType:   &boardType,
//	    ProjectPath: &path,
//	})
//
// # Thread Safety
//
// All stores are safe for concurrent use; Registry adds no locking of its own.
package device
