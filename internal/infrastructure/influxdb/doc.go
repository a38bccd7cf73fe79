// Package influxdb provides InfluxDB connectivity for relay telemetry.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes and health checks. The relay
// records bridge session events, command round-trip latency and rejected
// gateway logins.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteCommandLatency("3f2a", 84*time.Millisecond, "ack")
//
// Writes are batched according to batch_size and flush_interval. Write
// errors are delivered asynchronously through SetOnError.
package influxdb
