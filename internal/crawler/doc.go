// Package crawler defines the records, grouping keys, fetch outcomes and
// collaborator interfaces shared by the robots gate, the schedule builder,
// the fetch executor and the status reconciler.
package crawler
