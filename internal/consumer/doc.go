// Package consumer applies harvester events from the message bus to the
// record store.
//
// Routing keys prefixed with "harvest.status." overwrite the status fields of
// the harvest named by the message and then reconcile seed tokens and uids;
// "warc_created" records a produced WARC file. Any other routing key is logged
// and ignored. Handling is best effort: every store write commits on its own,
// a failed seed reconciliation never blocks its siblings, and failures are
// reported through logs and metrics rather than returned to the bus.
package consumer
