package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
)

// AzureTables adapts an Azure Table service client to TableClient.
type AzureTables struct {
	svc *aztables.ServiceClient
}

// AzureBlobs adapts an Azure Blob service client to BlobClient.
type AzureBlobs struct {
	svc *azblob.Client
}

// AzureQueues adapts an Azure Queue service client to QueueClient.
// Payloads are base64-encoded on the wire, which is what queue-triggered
// consumers expect.
type AzureQueues struct {
	svc *azqueue.ServiceClient
}

// NewAzureClients builds a Clients bundle for the given storage account
// using the supplied credential.
func NewAzureClients(account string, cred azcore.TokenCredential) (*Clients, error) {
	tables, err := aztables.NewServiceClient(fmt.Sprintf("https://%s.table.core.windows.net", account), cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create table service client: %w", err)
	}
	blobs, err := azblob.NewClient(fmt.Sprintf("https://%s.blob.core.windows.net", account), cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create blob service client: %w", err)
	}
	queues, err := azqueue.NewServiceClient(fmt.Sprintf("https://%s.queue.core.windows.net", account), cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create queue service client: %w", err)
	}
	return &Clients{
		Tables: &AzureTables{svc: tables},
		Blobs:  &AzureBlobs{svc: blobs},
		Queues: &AzureQueues{svc: queues},
	}, nil
}

func (t *AzureTables) Upsert(ctx context.Context, table, partitionKey, rowKey string, fields map[string]any) error {
	entity := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		entity[k] = v
	}
	entity["PartitionKey"] = partitionKey
	entity["RowKey"] = rowKey

	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("marshal entity %s/%s: %w", partitionKey, rowKey, err)
	}
	_, err = t.svc.NewClient(table).UpsertEntity(ctx, data, &aztables.UpsertEntityOptions{
		UpdateMode: aztables.UpdateModeReplace,
	})
	return mapAzureError(err)
}

func (t *AzureTables) Get(ctx context.Context, table, partitionKey, rowKey string) (map[string]any, error) {
	resp, err := t.svc.NewClient(table).GetEntity(ctx, partitionKey, rowKey, nil)
	if err != nil {
		return nil, mapAzureError(err)
	}
	var fields map[string]any
	if err := json.Unmarshal(resp.Value, &fields); err != nil {
		return nil, fmt.Errorf("unmarshal entity %s/%s: %w", partitionKey, rowKey, err)
	}
	return fields, nil
}

func (t *AzureTables) Delete(ctx context.Context, table, partitionKey, rowKey string) error {
	_, err := t.svc.NewClient(table).DeleteEntity(ctx, partitionKey, rowKey, nil)
	return mapAzureError(err)
}

func (b *AzureBlobs) Put(ctx context.Context, container, key string, data []byte) error {
	_, err := b.svc.UploadBuffer(ctx, container, key, data, nil)
	return mapAzureError(err)
}

func (b *AzureBlobs) Get(ctx context.Context, container, key string) ([]byte, error) {
	resp, err := b.svc.DownloadStream(ctx, container, key, nil)
	if err != nil {
		return nil, mapAzureError(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read blob %s/%s: %w", container, key, err)
	}
	return data, nil
}

func (b *AzureBlobs) Delete(ctx context.Context, container, key string) error {
	_, err := b.svc.DeleteBlob(ctx, container, key, nil)
	return mapAzureError(err)
}

func (q *AzureQueues) Send(ctx context.Context, queue string, payload []byte) error {
	encoded := base64.StdEncoding.EncodeToString(payload)
	_, err := q.svc.NewQueueClient(queue).EnqueueMessage(ctx, encoded, nil)
	return mapAzureError(err)
}

func (q *AzureQueues) Receive(ctx context.Context, queue string) (*Message, error) {
	resp, err := q.svc.NewQueueClient(queue).DequeueMessage(ctx, nil)
	if err != nil {
		return nil, mapAzureError(err)
	}
	if len(resp.Messages) == 0 {
		return nil, ErrNotFound
	}
	m := resp.Messages[0]
	var text string
	if m.MessageText != nil {
		text = *m.MessageText
	}
	payload, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		// Tolerate producers that did not base64-encode.
		payload = []byte(text)
	}
	msg := &Message{Payload: payload}
	if m.MessageID != nil {
		msg.ID = *m.MessageID
	}
	if m.PopReceipt != nil {
		msg.Receipt = *m.PopReceipt
	}
	return msg, nil
}

func (q *AzureQueues) Delete(ctx context.Context, queue string, msg *Message) error {
	_, err := q.svc.NewQueueClient(queue).DeleteMessage(ctx, msg.ID, msg.Receipt, nil)
	return mapAzureError(err)
}

// mapAzureError converts 404 service responses to ErrNotFound so callers can
// drive the documented fallback chains without knowing the SDK error shape.
func mapAzureError(err error) error {
	if err == nil {
		return nil
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == 404 {
		return ErrNotFound
	}
	return err
}
