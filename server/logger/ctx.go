package logger

// Ctx is a key-value context attached to log entries.
type Ctx map[string]interface{}

// WithCtx returns a new Ctx with values from both contexts. Values in
// ctx2 override values in c.
func (c Ctx) WithCtx(ctx2 Ctx) Ctx {
	if c == nil {
		return ctx2
	}

	if ctx2 == nil {
		return c
	}

	ret := make(Ctx, len(c)+len(ctx2))

	for k, v := range c {
		ret[k] = v
	}

	for k, v := range ctx2 {
		ret[k] = v
	}

	return ret
}
