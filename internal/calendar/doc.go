// Package calendar provides a Google Calendar client bound to one account.
//
// Changes to events notify attendees (sendUpdates=all). Every call runs
// under a retry.Invoker after obtaining the account's credential.
package calendar
