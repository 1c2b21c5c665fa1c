// Package reconcile runs the periodic pass: list scalable resources, decide
// each one against the window (previousTick, now], and apply the winners.
//
// Resources are independent. A failure on one is recorded in the pass Report
// and logged; it never stops the others. previousTick only moves forward after
// a pass that handled every listed resource.
package reconcile
