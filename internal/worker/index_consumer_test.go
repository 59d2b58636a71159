package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"vulnscope/features/corpus"
	"vulnscope/features/job"
	"vulnscope/internal/chunk"
	"vulnscope/internal/worker"
)

type MockIndexer struct{ mock.Mock }

func (m *MockIndexer) IndexDocuments(ctx context.Context, docs []chunk.Document) (int, error) {
	args := m.Called(ctx, docs)
	return args.Int(0), args.Error(1)
}

func (m *MockIndexer) Rebuild(ctx context.Context, sourceTag string, docs []chunk.Document) (int, error) {
	args := m.Called(ctx, sourceTag, docs)
	return args.Int(0), args.Error(1)
}

type MockDocumentLoader struct{ mock.Mock }

func (m *MockDocumentLoader) ListBySourceTag(ctx context.Context, sourceTag string) ([]corpus.Document, error) {
	args := m.Called(ctx, sourceTag)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]corpus.Document), args.Error(1)
}

type MockJobRecorder struct{ mock.Mock }

func (m *MockJobRecorder) Save(ctx context.Context, j *job.Job) error {
	args := m.Called(ctx, j)
	return args.Error(0)
}

func message(t *testing.T, task corpus.ReindexTask, attempts uint16) *nsq.Message {
	body, err := json.Marshal(task)
	require.NoError(t, err)
	m := nsq.NewMessage(nsq.MessageID{}, body)
	m.Attempts = attempts
	return m
}

func registeredDocs() []corpus.Document {
	return []corpus.Document{
		{ID: "doc-1", Title: "Process Injection", Body: "body one", SourceTag: "mitre_attack", URL: "https://attack.mitre.org/T1055"},
		{ID: "doc-2", Title: "Phishing", Body: "body two", SourceTag: "mitre_attack", URL: "https://attack.mitre.org/T1566"},
	}
}

func TestIndexConsumer_HandleMessage(t *testing.T) {
	t.Run("Indexes documents for source tag", func(t *testing.T) {
		ix := new(MockIndexer)
		docs := new(MockDocumentLoader)
		jobs := new(MockJobRecorder)

		docs.On("ListBySourceTag", mock.Anything, "mitre_attack").Return(registeredDocs(), nil)
		ix.On("IndexDocuments", mock.Anything, mock.MatchedBy(func(ds []chunk.Document) bool {
			return len(ds) == 2 && ds[0].ID == "doc-1" && ds[1].Body == "body two"
		})).Return(7, nil)

		h := worker.NewIndexConsumer(ix, docs, jobs)
		err := h.HandleMessage(message(t, corpus.ReindexTask{SourceTag: "mitre_attack"}, 1))
		require.NoError(t, err)
		ix.AssertExpectations(t)
		ix.AssertNotCalled(t, "Rebuild")
	})

	t.Run("Rebuild flag truncates first", func(t *testing.T) {
		ix := new(MockIndexer)
		docs := new(MockDocumentLoader)
		jobs := new(MockJobRecorder)

		docs.On("ListBySourceTag", mock.Anything, "owasp").Return(registeredDocs(), nil)
		ix.On("Rebuild", mock.Anything, "owasp", mock.Anything).Return(3, nil)

		h := worker.NewIndexConsumer(ix, docs, jobs)
		err := h.HandleMessage(message(t, corpus.ReindexTask{SourceTag: "owasp", Rebuild: true}, 1))
		require.NoError(t, err)
		ix.AssertNotCalled(t, "IndexDocuments")
	})

	t.Run("Poison pill swallowed", func(t *testing.T) {
		ix := new(MockIndexer)
		docs := new(MockDocumentLoader)
		jobs := new(MockJobRecorder)

		m := nsq.NewMessage(nsq.MessageID{}, []byte("{not valid json"))
		h := worker.NewIndexConsumer(ix, docs, jobs)
		assert.NoError(t, h.HandleMessage(m))
		docs.AssertNotCalled(t, "ListBySourceTag")
	})

	t.Run("Empty body swallowed", func(t *testing.T) {
		h := worker.NewIndexConsumer(new(MockIndexer), new(MockDocumentLoader), new(MockJobRecorder))
		assert.NoError(t, h.HandleMessage(nsq.NewMessage(nsq.MessageID{}, nil)))
	})

	t.Run("No registered documents is terminal", func(t *testing.T) {
		ix := new(MockIndexer)
		docs := new(MockDocumentLoader)
		docs.On("ListBySourceTag", mock.Anything, "cve").Return([]corpus.Document{}, nil)

		h := worker.NewIndexConsumer(ix, docs, new(MockJobRecorder))
		assert.NoError(t, h.HandleMessage(message(t, corpus.ReindexTask{SourceTag: "cve"}, 1)))
		ix.AssertNotCalled(t, "IndexDocuments")
	})

	t.Run("Failure requeues while attempts remain", func(t *testing.T) {
		ix := new(MockIndexer)
		docs := new(MockDocumentLoader)
		jobs := new(MockJobRecorder)

		docs.On("ListBySourceTag", mock.Anything, mock.Anything).Return(registeredDocs(), nil)
		ix.On("IndexDocuments", mock.Anything, mock.Anything).Return(0, errors.New("embedding provider down"))

		h := worker.NewIndexConsumer(ix, docs, jobs)
		err := h.HandleMessage(message(t, corpus.ReindexTask{SourceTag: "mitre_attack"}, 2))
		require.Error(t, err)
		jobs.AssertNotCalled(t, "Save")
	})

	t.Run("Exhausted attempts recorded as failed job", func(t *testing.T) {
		ix := new(MockIndexer)
		docs := new(MockDocumentLoader)
		jobs := new(MockJobRecorder)

		docs.On("ListBySourceTag", mock.Anything, mock.Anything).Return(registeredDocs(), nil)
		ix.On("IndexDocuments", mock.Anything, mock.Anything).Return(0, errors.New("embedding provider down"))
		jobs.On("Save", mock.Anything, mock.MatchedBy(func(j *job.Job) bool {
			return j.SourceTag == "mitre_attack" &&
				j.Handler == "index-worker" &&
				j.Error == "embedding provider down" &&
				len(j.Payload) > 0
		})).Return(nil)

		h := worker.NewIndexConsumer(ix, docs, jobs)
		err := h.HandleMessage(message(t, corpus.ReindexTask{SourceTag: "mitre_attack"}, 3))
		assert.NoError(t, err)
		jobs.AssertExpectations(t)
	})

	t.Run("Failed job save failure keeps the message in flight", func(t *testing.T) {
		ix := new(MockIndexer)
		docs := new(MockDocumentLoader)
		jobs := new(MockJobRecorder)

		docs.On("ListBySourceTag", mock.Anything, mock.Anything).Return(nil, errors.New("db down"))
		jobs.On("Save", mock.Anything, mock.Anything).Return(errors.New("db still down"))

		h := worker.NewIndexConsumer(ix, docs, jobs)
		err := h.HandleMessage(message(t, corpus.ReindexTask{SourceTag: "mitre_attack"}, 5))
		assert.Error(t, err)
	})
}
