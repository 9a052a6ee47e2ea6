// Package approvalworkflow implements the multi-approver decision workflow
// inside the project-tracking context.
//
// A request is created with a frozen roster of recipients; each recipient
// casts exactly one decision; the request resolves the instant either
// decision holds a strict majority of the full roster, and the resolving
// transition happens exactly once even under concurrent voting. The module
// keeps business rules in application/domain layers and isolates
// infrastructure concerns behind ports and adapters.
package approvalworkflow
