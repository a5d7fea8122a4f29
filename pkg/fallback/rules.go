package fallback

import (
	"regexp"

	"github.com/triago-ai/triago/pkg/models"
)

// Rule is one entry of the closed classification catalog. Regex hits score
// 1.0, keyword hits 0.5; the highest-scoring rule wins.
type Rule struct {
	ErrorType string
	Severity  models.Severity
	Title     string // Sprintf template, %s = service
	Problem   string
	Cause     string
	Action    string
	Regexes   []*regexp.Regexp
	Keywords  []string
}

// maxScore is the best score this rule can reach, used to normalize confidence.
func (r *Rule) maxScore() float64 {
	return float64(len(r.Regexes)) + 0.5*float64(len(r.Keywords))
}

func rx(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

// catchAllErrorType names the rule used when nothing else scores.
const catchAllErrorType = "unknown"

// catalog is the full rule set. Rules match against normalized (lowercased,
// redacted) log text, so patterns are lowercase-only.
var catalog = []Rule{
	{
		ErrorType: "database-connection",
		Severity:  models.SeverityHigh,
		Title:     "Investigate database connection failures in %s",
		Problem:   "The service cannot establish or keep connections to its database.",
		Cause:     "Database outage, connection pool exhaustion, network partition, or credential rotation.",
		Action:    "Check database health and connection pool metrics; verify credentials and network path.",
		Regexes: rx(
			`connection (refused|reset|closed).*(db|database|postgres|mysql|jdbc)`,
			`(db|database|postgres|mysql).*connection (refused|reset|closed|failed)`,
			`could not connect to (database|server|postgres|mysql)`,
			`connection pool (exhausted|timeout)`,
		),
		Keywords: []string{"jdbc", "sqlstate", "pgbouncer", "too many connections"},
	},
	{
		ErrorType: "db-timeout",
		Severity:  models.SeverityHigh,
		Title:     "Investigate database query timeouts in %s",
		Problem:   "Database statements exceed their timeout budget.",
		Cause:     "Slow queries, lock contention, missing indexes, or an overloaded database.",
		Action:    "Inspect slow query logs and lock waits; review recent schema or traffic changes.",
		Regexes: rx(
			`(query|statement|transaction).*(timed out|timeout)`,
			`canceling statement due to statement timeout`,
			`lock wait timeout exceeded`,
		),
		Keywords: []string{"deadlock", "lock timeout"},
	},
	{
		ErrorType: "timeout",
		Severity:  models.SeverityMedium,
		Title:     "Investigate request timeouts in %s",
		Problem:   "Outbound or inbound operations are exceeding their deadline.",
		Cause:     "Slow downstream dependency, resource saturation, or an undersized timeout.",
		Action:    "Identify the slow dependency from traces; consider backpressure or timeout tuning.",
		Regexes: rx(
			`(timed out|timeout) (after|waiting|while)`,
			`context deadline exceeded`,
			`read timed out`,
		),
		Keywords: []string{"deadline", "timeout"},
	},
	{
		ErrorType: "http-5xx",
		Severity:  models.SeverityHigh,
		Title:     "Investigate upstream 5xx responses in %s",
		Problem:   "A dependency is answering with server errors.",
		Cause:     "Downstream outage, bad deployment, or overload shedding.",
		Action:    "Correlate with the dependency's deploys and error budget; add retries only if idempotent.",
		Regexes: rx(
			`(status|code|http)[ :]*5\d\d`,
			`(internal server error|bad gateway|service unavailable|gateway timeout)`,
		),
		Keywords: []string{"upstream", "5xx"},
	},
	{
		ErrorType: "http-4xx",
		Severity:  models.SeverityLow,
		Title:     "Investigate client errors calling dependencies from %s",
		Problem:   "Requests are rejected with 4xx client errors.",
		Cause:     "Contract drift, invalid payloads, or expired client credentials.",
		Action:    "Diff the request against the dependency's current API contract.",
		Regexes: rx(
			`(status|code|http)[ :]*4\d\d`,
			`(bad request|not found|method not allowed|unprocessable)`,
		),
		Keywords: []string{"4xx"},
	},
	{
		ErrorType: "authentication",
		Severity:  models.SeverityHigh,
		Title:     "Investigate authentication failures in %s",
		Problem:   "Authentication against a dependency or identity provider is failing.",
		Cause:     "Expired or rotated credentials, clock skew, or identity provider outage.",
		Action:    "Verify credential validity and rotation schedule; check the identity provider status.",
		Regexes: rx(
			`(authentication|auth) (failed|failure|error)`,
			`(invalid|expired) (token|credentials|api key)`,
			`unauthorized`,
		),
		Keywords: []string{"401", "oauth", "jwt", "login failed"},
	},
	{
		ErrorType: "authorization",
		Severity:  models.SeverityMedium,
		Title:     "Investigate permission denials in %s",
		Problem:   "The service is denied access to a resource it expects to reach.",
		Cause:     "Policy change, missing role binding, or scope misconfiguration.",
		Action:    "Audit recent IAM/policy changes for the affected resource.",
		Regexes: rx(
			`(permission|access) denied`,
			`forbidden`,
			`not authorized to`,
		),
		Keywords: []string{"403", "rbac", "iam"},
	},
	{
		ErrorType: "file-system",
		Severity:  models.SeverityMedium,
		Title:     "Investigate file system errors in %s",
		Problem:   "Local file operations are failing.",
		Cause:     "Missing paths, permission problems, or a read-only/remounted volume.",
		Action:    "Check volume mounts and directory permissions on the affected hosts.",
		Regexes: rx(
			`no such file or directory`,
			`(read-only|readonly) file system`,
			`(file|directory) (not found|permission denied)`,
			`too many open files`,
		),
		Keywords: []string{"enoent", "eacces", "emfile"},
	},
	{
		ErrorType: "out-of-memory",
		Severity:  models.SeverityHigh,
		Title:     "Investigate out-of-memory conditions in %s",
		Problem:   "The process is running out of memory or being OOM-killed.",
		Cause:     "Memory leak, undersized limits, or an unbounded working set.",
		Action:    "Capture a heap profile; review memory limits and recent allocation-heavy changes.",
		Regexes: rx(
			`out of memory`,
			`oom[ -]?kill`,
			`(cannot|unable to) allocate memory`,
			`java\.lang\.outofmemoryerror`,
		),
		Keywords: []string{"heap", "memory limit"},
	},
	{
		ErrorType: "configuration",
		Severity:  models.SeverityMedium,
		Title:     "Fix configuration errors in %s",
		Problem:   "The service rejected part of its configuration at load or use time.",
		Cause:     "A recent config change, missing environment variable, or schema drift.",
		Action:    "Diff the running configuration against the last known-good revision.",
		Regexes: rx(
			`(invalid|missing|malformed) (config|configuration|property|parameter)`,
			`(environment variable|env var).*(not set|missing)`,
			`failed to (load|parse) (config|configuration)`,
		),
		Keywords: []string{"yaml", "unmarshal"},
	},
	{
		ErrorType: "kafka-consumer-lag",
		Severity:  models.SeverityHigh,
		Title:     "Investigate consumer lag in %s",
		Problem:   "Message consumption is falling behind the partition head.",
		Cause:     "Slow processing, rebalancing storms, or a stuck partition.",
		Action:    "Check consumer group lag and rebalance history; look for poison messages.",
		Regexes: rx(
			`consumer (lag|group).*(behind|exceeded|rebalanc)`,
			`offset (out of range|commit failed)`,
			`partition.*(stuck|lag)`,
		),
		Keywords: []string{"kafka", "consumer group", "rebalance"},
	},
	{
		ErrorType: "message-broker",
		Severity:  models.SeverityMedium,
		Title:     "Investigate message broker errors in %s",
		Problem:   "Publishing or consuming against the message broker is failing.",
		Cause:     "Broker unavailability, channel closure, or queue limits.",
		Action:    "Check broker cluster health and queue depths.",
		Regexes: rx(
			`(broker|rabbitmq|amqp|sqs|pubsub).*(unavailable|error|failed|closed)`,
			`failed to (publish|produce|consume)`,
			`channel.*closed`,
		),
		Keywords: []string{"amqp", "nack", "redelivered"},
	},
	{
		ErrorType: "network",
		Severity:  models.SeverityMedium,
		Title:     "Investigate network connectivity errors in %s",
		Problem:   "Network connections to peers are failing.",
		Cause:     "Partition, flapping endpoint, or security group/firewall change.",
		Action:    "Check reachability of the remote endpoint and recent network changes.",
		Regexes: rx(
			`connection (refused|reset by peer|aborted)`,
			`no route to host`,
			`network (unreachable|is unreachable)`,
			`broken pipe`,
		),
		Keywords: []string{"econnrefused", "econnreset", "socket"},
	},
	{
		ErrorType: "dns",
		Severity:  models.SeverityMedium,
		Title:     "Investigate DNS resolution failures in %s",
		Problem:   "Hostname resolution is failing.",
		Cause:     "Resolver outage, missing record, or search-domain misconfiguration.",
		Action:    "Resolve the failing name from the affected hosts; check resolver health.",
		Regexes: rx(
			`(dns|name) resolution (failed|error)`,
			`no such host`,
			`could not resolve`,
			`nxdomain`,
		),
		Keywords: []string{"resolver", "lookup"},
	},
	{
		ErrorType: "tls-certificate",
		Severity:  models.SeverityHigh,
		Title:     "Investigate TLS certificate errors in %s",
		Problem:   "TLS handshakes are failing on certificate validation.",
		Cause:     "Expired certificate, incomplete chain, or hostname mismatch.",
		Action:    "Inspect the presented certificate chain and expiry; rotate if needed.",
		Regexes: rx(
			`certificate (expired|verification failed|unknown|invalid)`,
			`x509`,
			`tls (handshake|error)`,
		),
		Keywords: []string{"ssl", "certificate"},
	},
	{
		ErrorType: "disk-space",
		Severity:  models.SeverityHigh,
		Title:     "Investigate disk space exhaustion in %s",
		Problem:   "The host or volume is out of disk space.",
		Cause:     "Log growth, unbounded spool directories, or undersized volumes.",
		Action:    "Find the growing path and add retention; resize the volume if justified.",
		Regexes: rx(
			`no space left on device`,
			`disk (full|quota exceeded)`,
		),
		Keywords: []string{"enospc", "df"},
	},
	{
		ErrorType: "serialization",
		Severity:  models.SeverityLow,
		Title:     "Investigate serialization errors in %s",
		Problem:   "Payloads fail to encode or decode.",
		Cause:     "Schema drift between producer and consumer or corrupt input.",
		Action:    "Capture a failing payload and diff against the expected schema.",
		Regexes: rx(
			`(json|xml|yaml|proto).*(parse|unmarshal|decode|deserialize).*(error|failed)`,
			`unexpected (token|character|end of)`,
			`(serialization|deserialization) (error|failed)`,
		),
		Keywords: []string{"marshal", "decode"},
	},
	{
		ErrorType: "null-reference",
		Severity:  models.SeverityMedium,
		Title:     "Fix null reference failures in %s",
		Problem:   "Code is dereferencing an absent value.",
		Cause:     "A missing upstream field or an unhandled optional path.",
		Action:    "Trace the absent value to its producer and guard the access.",
		Regexes: rx(
			`(nullpointerexception|nil pointer dereference)`,
			`(none|null|nil).*(has no attribute|is not an object|reference)`,
			`undefined is not`,
		),
		Keywords: []string{"npe", "nonetype"},
	},
	{
		ErrorType: "rate-limit",
		Severity:  models.SeverityMedium,
		Title:     "Investigate rate limiting against %s",
		Problem:   "A dependency is throttling requests.",
		Cause:     "Traffic growth past the quota, retry storms, or missing client-side limiting.",
		Action:    "Check request volumes against the quota; add client-side limiting or backoff.",
		Regexes: rx(
			`(rate limit|ratelimit)(ed| exceeded| hit)?`,
			`too many requests`,
			`quota exceeded`,
		),
		Keywords: []string{"429", "throttle"},
	},
	{
		ErrorType: "payment",
		Severity:  models.SeverityHigh,
		Title:     "Investigate payment processing errors in %s",
		Problem:   "Payment operations are failing.",
		Cause:     "Payment provider outage, declined transactions, or integration errors.",
		Action:    "Check the payment provider status page and failed transaction samples.",
		Regexes: rx(
			`payment.*(failed|declined|error)`,
			`(charge|transaction).*(failed|declined)`,
		),
		Keywords: []string{"stripe", "billing", "invoice"},
	},
	{
		ErrorType: "migration",
		Severity:  models.SeverityHigh,
		Title:     "Investigate schema migration failures in %s",
		Problem:   "A database migration did not apply cleanly.",
		Cause:     "Conflicting schema state, partial apply, or a dirty migration version.",
		Action:    "Check the migration version table and reconcile the schema by hand if dirty.",
		Regexes: rx(
			`migration.*(failed|error|dirty)`,
			`(schema|version).*(mismatch|conflict)`,
		),
		Keywords: []string{"migrate", "flyway", "liquibase"},
	},
	{
		ErrorType: catchAllErrorType,
		Severity:  models.SeverityLow,
		Title:     "Investigate recurring unclassified errors in %s",
		Problem:   "A recurring error did not match any known failure category.",
		Cause:     "Unknown; the message did not match the classification catalog.",
		Action:    "Read a sample of the raw logs and extend the catalog if a pattern emerges.",
		Regexes:   rx(`(error|exception|failed|failure)`),
		Keywords:  []string{"fatal", "panic", "critical"},
	},
}
