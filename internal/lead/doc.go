// Package lead defines the lead domain model shared by every pipeline stage:
// leads and their identity keys, the merge rule applied on re-discovery,
// campaign send records, and the interfaces the stages depend on.
package lead
