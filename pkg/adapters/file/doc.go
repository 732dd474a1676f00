// Package file persists run states as JSON files and loads workflow definitions
// from a directory of YAML files.
package file
