// Package memory provides in-process implementations of the repository and
// blob store used for tests and dry runs. Data does not survive the process.
package memory
