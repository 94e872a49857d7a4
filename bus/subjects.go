package bus

import (
	"fmt"
	"strings"
)

// Subject families used by the worker. The feedeater prefix is fixed by the
// wire contract with the dashboard and the modules.
const (
	SubjectPrefix = "feedeater"

	// SubjectJobsWildcard matches every canonical job-run event.
	SubjectJobsWildcard = "feedeater.jobs.>"

	// SubjectMessagesWildcard matches messageCreated from every module
	// (exactly one token for the module name).
	SubjectMessagesWildcard = "feedeater.*.messageCreated"

	// SubjectContextsWildcard matches contextUpdated from every module.
	SubjectContextsWildcard = "feedeater.*.contextUpdated"

	// SubjectWorkerLog carries the worker's structured log events.
	SubjectWorkerLog = "feedeater.worker.log"
)

// JobRunSubject builds the canonical subject for a job-run event.
func JobRunSubject(module, queue, job string) string {
	return fmt.Sprintf("%s.jobs.%s.%s.%s", SubjectPrefix, module, queue, job)
}

// MessageCreatedSubject builds the per-module messageCreated subject.
func MessageCreatedSubject(module string) string {
	return fmt.Sprintf("%s.%s.messageCreated", SubjectPrefix, module)
}

// ContextUpdatedSubject builds the per-module contextUpdated subject.
func ContextUpdatedSubject(module string) string {
	return fmt.Sprintf("%s.%s.contextUpdated", SubjectPrefix, module)
}

// ModuleFromSubject extracts the module token from a three-token subject of
// the form feedeater.<module>.<leaf>. It returns false for anything else,
// including deeper job subjects.
func ModuleFromSubject(subject string) (string, bool) {
	parts := strings.Split(subject, ".")
	if len(parts) != 3 || parts[0] != SubjectPrefix {
		return "", false
	}
	if parts[1] == "" || parts[1] == "jobs" {
		return "", false
	}
	return parts[1], true
}
