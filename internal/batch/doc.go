// Package batch runs a pipeline over many inputs on a bounded worker pool.
//
// Each input gets a 1-based sequence index equal to its position before any
// work is submitted, so rendered output names do not depend on scheduling.
// A failing or panicking item is logged once and recorded in its Outcome;
// it never affects other items, and Run always returns after every item has
// finished.
package batch
