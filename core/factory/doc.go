// Package factory provides a small generic registry used to instantiate
// pluggable modules (metrics sinks, event log backends) from configuration.
// A module is described by a type string and a map of raw settings; the
// registered factory decodes the settings into a typed struct.
//
//	reg := factory.NewRegistry[metrics.MetricsSink]()
//	_ = reg.Register("influx", func(conf map[string]any) (metrics.MetricsSink, error) {
//	    var c struct{ URL string `json:"url"` }
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return newInfluxSink(c.URL), nil
//	})
package factory
