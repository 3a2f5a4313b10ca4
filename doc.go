// Package mailstore is the mailbox storage core of a mail server.
//
// It sits between protocol front-ends (IMAP, JMAP) and a pluggable storage
// backend. Backends implement store.SessionMapperFactory; the Manager adds
// a metadata cache for the aggregate queries front-ends issue on every
// SELECT and STATUS, and an event bus that tells listeners about every
// committed mutation.
//
// # Basic Usage
//
//	mgr, err := mailstore.New(
//	    mailstore.WithFactory(memory.New()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := mgr.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer mgr.Close(ctx)
//
//	sess, _ := mgr.Session("alice")
//	sess.CreateMailbox(ctx, "INBOX")
//	md, _ := sess.AppendMessage(ctx, "INBOX", &store.Message{Size: 512})
//	st, _ := sess.Status(ctx, "INBOX") // st.UIDNext == md.UID+1
//
// # Mutation Order
//
// Every mutation commits through the backend mapper first, then drops the
// mailbox's cached aggregates, then publishes exactly one event. Listeners
// therefore never observe an event for a change that a Status call could
// still miss.
//
// # Storage Backends
//
//   - In-memory (store/memory) - tests and single-process deployments
//   - PostgreSQL (store/postgres) - accepts *sqlx.DB
//   - MongoDB (store/mongo) - accepts *mongo.Client
//
// UID and mod-sequence counters of the in-memory backend can be made
// durable with sequence/bolt, sequence/redis or sequence/mongo. Attachment
// content goes to a store.BlobStore: store/blob/s3, store/blob/gcs, or
// store/blob/cached in front of either. store/blob/otel adds spans and
// metrics to any of them.
//
// # Events
//
// Subscribe to Manager.Events(). Listeners run synchronously by default;
// pass events.Async() to run them on ordered per-mailbox queues. To forward
// events to other processes, attach an events/bridge.Bridge with WithBridge.
//
//	mgr.Events().Subscribe(events.Handlers{
//	    MessageAdded: func(ctx context.Context, ev *events.MessageAdded) error {
//	        log.Printf("new mail in %s: %v", ev.Path().Name, ev.UIDs())
//	        return nil
//	    },
//	}, events.WithName("notifier"), events.Async())
package mailstore
