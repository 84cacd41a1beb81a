// Package fridareload bundles an instrumentation script, injects it into a
// target process and reloads it whenever one of its source files changes.
//
// A minimal program:
//
//	cfg, err := fridareload.DefineConfig(fridareload.Partial{
//		Target: fridareload.Target{Name: "App", Package: "com.example.app"},
//		Attach: fridareload.SpawnTry,
//	})
//	if err != nil {
//		return err
//	}
//	return fridareload.Start(ctx, cfg)
//
// Start returns once the session detaches, ctx is cancelled or startup
// fails.
package fridareload
