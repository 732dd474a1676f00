// Package registry maps the node kinds used in workflow definitions to Go functions.
package registry
