// Package index holds the in-memory chunk store of one session and the
// vector math used to rank its chunks against a query.
package index
