// Package gmail provides a client for the Gmail API bound to one account.
//
// Every call obtains the account's credential through its oauth.Handler and
// runs under a retry.Invoker, so transient failures are retried and the
// error kinds of the credential layer reach the caller unchanged.
//
// Clients are normally obtained from an accounts.Registry built with Factory:
//
//	reg, err := accounts.NewRegistry(accounts.Config[*gmail.Client]{
//	    Service:    credentials.ProviderGmail,
//	    Store:      store,
//	    NewHandler: accounts.Handlers(handlerConfig),
//	    NewClient:  gmail.Factory(gmail.Options{Invoker: inv}),
//	})
//	client, err := reg.Client(ctx, "") // default account
//	messages, err := client.SearchMessages(ctx, "is:unread", 10)
package gmail
