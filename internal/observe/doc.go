// Package observe defines the optional observability sink. Call sites go
// through the package helpers, which tolerate a nil sink and contain a
// panicking one.
package observe
