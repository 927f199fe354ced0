// Package influxdb is the optional time-series sink for operational
// metrics: access decisions per door, webhook delivery outcomes, and
// lock contention. Writes are batched and non-blocking so a slow or
// absent InfluxDB never holds up a decision or a delivery.
//
// When influxdb.enabled is false in the configuration nothing here is
// constructed and every caller treats the sink as absent.
package influxdb
