// Package classid enumerates the entity kinds that backend log records
// reference by small integer id.
package classid
