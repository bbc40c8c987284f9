// Package testutil holds test doubles and wire fixtures shared by package
// tests: an in-memory transport with a recording factory, and device payloads
// in their on-the-wire form.
//
//	factory := testutil.NewFakeFactory()
//	m, _ := session.NewManager(factory.Factory, view.NewPublisher())
//	go m.Run(ctx)
//	_ = m.Ready(ctx, id)
//	tr := factory.Last()
//	tr.EmitConnected()
//	tr.EmitMessage("device/logs", testutil.LogStart)
package testutil
