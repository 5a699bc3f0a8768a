package database

import "context"

type Querier interface {
	CreateDeliveryReport(ctx context.Context, arg CreateDeliveryReportParams) (DeliveryReport, error)
	CreateMessage(ctx context.Context, arg CreateMessageParams) (Message, error)
	CreateTransaction(ctx context.Context, arg CreateTransactionParams) error
	GetAccountByAppID(ctx context.Context, appID string) (Account, error)
	GetAccountForUpdate(ctx context.Context, appID string) (Account, error)
	GetDeliveryReport(ctx context.Context, messageID, providerMessageID string) (DeliveryReport, error)
	GetMessage(ctx context.Context, messageID, phoneNumber string) (Message, error)
	GetMessageByProviderMessageID(ctx context.Context, providerMessageID string) (Message, error)
	GetMessageStatistics(ctx context.Context, arg GetMessageStatisticsParams) (MessageStatistics, error)
	GetMessagesByMessageID(ctx context.Context, appID, messageID string) ([]Message, error)
	GetProviderByID(ctx context.Context, providerID string) (Provider, error)
	ListEnabledProviders(ctx context.Context) ([]Provider, error)
	MarkMessageFailed(ctx context.Context, arg MarkMessageFailedParams) error
	ResetMessageForReplay(ctx context.Context, arg ResetMessageForReplayParams) error
	TransactionExists(ctx context.Context, arg TransactionExistsParams) (bool, error)
	UpdateAccountBalance(ctx context.Context, arg UpdateAccountBalanceParams) error
	UpdateDeliveryReportIfCurrent(ctx context.Context, arg UpdateDeliveryReportIfCurrentParams) (int64, error)
	UpdateMessageDispatched(ctx context.Context, arg UpdateMessageDispatchedParams) error
	UpdateMessageRetry(ctx context.Context, arg UpdateMessageRetryParams) error
	UpdateMessageStatusIfCurrent(ctx context.Context, arg UpdateMessageStatusIfCurrentParams) (int64, error)
}

var _ Querier = (*Queries)(nil)
