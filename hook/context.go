package hook

// Context is the mutable record shared by all subscribers of one dispatch
// call. It carries the payload fields, the cancellation flag, and the
// result each subscriber returned.
//
// A Context lives for exactly one dispatch call and is not safe for
// concurrent use: dispatch for one hook name is strictly sequential, so
// subscribers never race on it.
type Context struct {
	// Hook is the name this context is being dispatched on.
	Hook Name

	// Source optionally names the extension that raised the hook, for
	// extension-to-extension events.
	Source string

	data      map[string]any
	cancelled bool
	results   map[string]Result
}

// NewContext creates a context for one dispatch of the given hook.
// data may be nil.
func NewContext(name Name, data map[string]any) *Context {
	if data == nil {
		data = make(map[string]any)
	}
	return &Context{
		Hook:    name,
		data:    data,
		results: make(map[string]Result),
	}
}

// Get returns the payload field for key, or nil if absent.
func (c *Context) Get(key string) any { return c.data[key] }

// GetDefault returns the payload field for key, or def if absent.
func (c *Context) GetDefault(key string, def any) any {
	if v, ok := c.data[key]; ok {
		return v
	}
	return def
}

// Set stores a payload field.
func (c *Context) Set(key string, value any) { c.data[key] = value }

// Data returns the live payload map.
func (c *Context) Data() map[string]any { return c.data }

// Cancel sets the cancellation flag. Remaining subscribers in the current
// dispatch do not run.
func (c *Context) Cancel() { c.cancelled = true }

// Cancelled reports whether the chain was cancelled.
func (c *Context) Cancelled() bool { return c.cancelled }

// Result returns the result recorded for the named extension.
func (c *Context) Result(extension string) (Result, bool) {
	r, ok := c.results[extension]
	return r, ok
}

// Results returns a copy of the per-extension result map. If an extension
// holds several subscriptions on the same hook, the last one to run wins;
// that is defined behavior, not an accident.
func (c *Context) Results() map[string]Result {
	out := make(map[string]Result, len(c.results))
	for k, v := range c.results {
		out[k] = v
	}
	return out
}

// Aborted reports whether any subscriber returned Abort or the chain was
// cancelled.
func (c *Context) Aborted() bool {
	if c.cancelled {
		return true
	}
	for _, r := range c.results {
		if r == Abort {
			return true
		}
	}
	return false
}

// Modified reports whether any subscriber returned Modified.
func (c *Context) Modified() bool {
	for _, r := range c.results {
		if r == Modified {
			return true
		}
	}
	return false
}

func (c *Context) setResult(extension string, r Result) {
	c.results[extension] = r
}
