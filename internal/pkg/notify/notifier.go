package notify

// Notifier is the fire-and-forget notification collaborator. Callers invoke
// it only after a successful commit; a failed send never blocks or reverts a
// state transition.
type Notifier interface {
	SendPaymentFailed(to, organizationName string) error
	SendTrialEnding(to, organizationName string, daysLeft int) error
	SendSubscriptionCanceled(to, organizationName string) error
	SendInvoiceUpcoming(to, organizationName string, amountCents int64) error
}
