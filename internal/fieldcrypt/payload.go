package fieldcrypt

// EncryptPayload encrypts every protected string field found anywhere in v,
// which is a decoded JSON value. Maps and slices are modified in place.
func (e *Engine) EncryptPayload(v interface{}, c Context) error {
	return e.walk(v, func(s string) (string, error) { return e.Encrypt(s, c) })
}

// DecryptPayload decrypts every protected field in v. The first failure
// aborts the walk.
func (e *Engine) DecryptPayload(v interface{}, c Context) error {
	return e.walk(v, func(s string) (string, error) { return e.Decrypt(s, c) })
}

func (e *Engine) walk(v interface{}, fn func(string) (string, error)) error {
	switch node := v.(type) {
	case map[string]interface{}:
		for k, child := range node {
			if s, ok := child.(string); ok && e.IsField(k) {
				out, err := fn(s)
				if err != nil {
					return err
				}
				node[k] = out
				continue
			}
			if err := e.walk(child, fn); err != nil {
				return err
			}
		}
	case []interface{}:
		for _, child := range node {
			if err := e.walk(child, fn); err != nil {
				return err
			}
		}
	}
	return nil
}
