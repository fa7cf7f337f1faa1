package modsys

import "os"

// readFile is a thin indirection over os.ReadFile so tests can substitute
// an in-memory filesystem without touching the loader logic.
var readFile = os.ReadFile
