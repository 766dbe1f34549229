// Package state moves guest state between generations. A Snapshot is the
// byte image of a guest's declared state region, tagged with the version
// it was captured from and a fingerprint of the region's shape; Restore
// refuses to write a snapshot into a region whose shape no longer
// matches, which is how incompatible guest rebuilds are detected before
// they corrupt anything.
//
// Unsafe transfer additionally copies the writable static ranges recorded
// from the initial generation (the active data segments of the first
// artifact), for guests that keep state outside the declared region.
package state
