package host

// reload implements spec.md §4.5's hot-reload contract: clear every timer
// and RAF callback (unprotecting their handles), clear the module loader's
// caches, then re-evaluate the entry script. GPU resources held by the
// previous script's JS wrappers are released as those wrappers are
// collected by the engine's own GC — the host does nothing extra for that
// part, per spec.md's "released when their JS wrappers are collected".
func (h *Host) reload() error {
	for _, cb := range h.timers.clearAll() {
		h.backend.Unprotect(cb)
	}
	h.timers = newTimerSet()

	for _, e := range h.raf.pending {
		h.backend.Unprotect(e.cb)
	}
	h.raf = rafQueue{}

	h.loader.ClearCaches()

	return h.evalEntry()
}
