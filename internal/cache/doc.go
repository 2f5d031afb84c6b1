// Package cache provides a small TTL string cache with bounded size.
package cache
