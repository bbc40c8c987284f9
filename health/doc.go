// Package health reports whether the process is doing its job: whether the
// device link is up and whether its collaborators answer.
//
// There are three levels. Healthy means normal operation. Degraded means the
// link is being established or re-established and the reconciled view may be
// stale. Unhealthy means no link at all.
//
// Components are tracked by a Monitor, either pushed or probed:
//
//	monitor := health.NewMonitor()
//	monitor.Register("session", func() health.Status {
//	    return health.FromLink("session", mgr.Health())
//	})
//	monitor.UpdateDegraded("archive", "Backfill failed")
//
//	overall := monitor.AggregateHealth("pumpview")
//
// Error text placed in a Status passes through Sanitize, which strips URLs,
// paths, addresses, ports and credentials.
package health
