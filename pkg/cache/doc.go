// Package cache provides a generic TTL cache.
//
// The archive client keeps its folder listing here so repeated listings do
// not hit the archive endpoint:
//
//	folders, err := cache.NewTTL[[]Folder](5*time.Minute,
//	    cache.WithMetrics[[]Folder](registry, "archive"))
//	if v, ok := folders.Get("all"); ok {
//	    return v, nil
//	}
//
// Expiry is checked against an injectable clock (WithClock), so tests never
// sleep.
package cache
