// Package factory instantiates pluggable modules from configuration. A module
// is described by a type name and a map of raw settings; the factory
// registered for that type decodes the settings into its own struct and
// returns the implementation.
//
//	reg := factory.NewRegistry[history.Store]()
//	reg.Register("jsonl", func(conf map[string]any) (history.Store, error) {
//	    var c struct{ Path string `json:"path"` }
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return history.NewRotatingJSONLStore(c.Path, 10, 3)
//	})
package factory
