// Package attachment implements the client-side attachment upload pipeline
// for the chat application: validation of file metadata against an
// allow/block policy, best-effort in-memory image downscaling, lazy
// acquisition and proactive rotation of temporary storage credentials,
// deterministic object-key construction, automatic selection between
// single-put and multipart transfer strategies with progress reporting,
// and generation of time-limited signed URLs for stored objects.
//
// The package consumes one external capability, a CredentialSource that
// returns short-lived storage credentials, and talks to S3-compatible
// object storage through a shared handle owned by the Broker. The durable
// reference to an uploaded attachment is always the object key returned in
// Result; signed URLs expire and must not be persisted.
//
// Basic usage:
//
//	broker := attachment.NewBroker(source)
//	up := attachment.NewUploader(broker)
//
//	res, err := up.Upload(ctx, data, "report.pdf", "application/pdf",
//		attachment.WithPrefix("chat"),
//		attachment.WithProgress(func(percent int) { ... }),
//	)
package attachment
