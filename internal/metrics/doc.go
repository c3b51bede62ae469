/*
Package metrics provides a process-wide metrics registry and a periodic
JSON exporter.

The Registry is an explicitly constructed, injectable object: build one at
process start, pass it to every component that records metrics, and build a
fresh one per test. Metrics are created lazily on first reference and keyed
by name plus sorted labels, so the registry is append-only and identity is
insertion-order independent.

Three metric kinds are supported:

  - Counter: monotonic integer, Inc(n)
  - Gauge: Set/Inc/Dec
  - Histogram: Observe(v) tracking sum, count, and a bucket map keyed by
    the value rounded to two decimals

The Exporter dumps the full registry to timestamped JSON files in a
configurable directory at a configurable interval.
*/
package metrics
