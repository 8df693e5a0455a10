package crm

import (
	"context"
	"fmt"
	"testing"

	"github.com/callvault/quosync/internal/quo"
)

type stubAdapter struct {
	name string
}

func (a *stubAdapter) Name() string                         { return a.name }
func (a *stubAdapter) SyncConfig() SyncConfig               { return SyncConfig{PaginationType: PageBased} }
func (a *stubAdapter) PersonObjectTypes() []PersonObjectType { return nil }
func (a *stubAdapter) QueueConfig() QueueConfig             { return QueueConfig{} }

func (a *stubAdapter) FetchPersonPage(context.Context, string, PageRequest) (*PageResult, error) {
	return &PageResult{}, nil
}

func (a *stubAdapter) FetchPersonsByIDs(_ context.Context, _ string, ids []string) ([]Person, error) {
	persons := make([]Person, 0, len(ids))
	for _, id := range ids {
		persons = append(persons, Person{ID: id})
	}
	return persons, nil
}

func (a *stubAdapter) TransformPersonToQuo(_ context.Context, person Person) (*quo.Contact, error) {
	if person.ID == "bad" {
		return nil, fmt.Errorf("no mapping for %s", person.ID)
	}
	return &quo.Contact{ExternalID: person.ID}, nil
}

func (a *stubAdapter) LogSMSToActivity(context.Context, string, string, SMSLog) error   { return nil }
func (a *stubAdapter) LogCallToActivity(context.Context, string, string, CallLog) error { return nil }

type batchStub struct {
	stubAdapter
	batchCalls int
}

func (a *batchStub) TransformPersonsToQuo(_ context.Context, persons []Person) ([]quo.Contact, error) {
	a.batchCalls++
	contacts := make([]quo.Contact, 0, len(persons))
	for _, p := range persons {
		contacts = append(contacts, quo.Contact{ExternalID: p.ID})
	}
	return contacts, nil
}

type singleStub struct {
	fetched []string
}

func (s *singleStub) FetchPersonByID(_ context.Context, _ string, id string) (*Person, error) {
	s.fetched = append(s.fetched, id)
	return &Person{ID: id}, nil
}

func TestTransformPersonsDefaultsToPerPerson(t *testing.T) {
	adapter := &stubAdapter{name: "stub"}
	contacts, err := TransformPersons(context.Background(), adapter, []Person{{ID: "a"}, {ID: "b"}})
	if err != nil {
		t.Fatalf("TransformPersons returned error: %v", err)
	}
	if len(contacts) != 2 || contacts[0].ExternalID != "a" {
		t.Fatalf("unexpected contacts: %#v", contacts)
	}
}

func TestTransformPersonsPrefersBatchCapability(t *testing.T) {
	adapter := &batchStub{stubAdapter: stubAdapter{name: "batch"}}
	contacts, err := TransformPersons(context.Background(), adapter, []Person{{ID: "a"}})
	if err != nil {
		t.Fatalf("TransformPersons returned error: %v", err)
	}
	if adapter.batchCalls != 1 {
		t.Fatalf("expected batch capability to be used, calls=%d", adapter.batchCalls)
	}
	if len(contacts) != 1 {
		t.Fatalf("unexpected contacts: %#v", contacts)
	}
}

func TestFanOutFetchVisitsEveryID(t *testing.T) {
	fetcher := &singleStub{}
	persons, err := FanOutFetch(context.Background(), fetcher, "int-1", []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("FanOutFetch returned error: %v", err)
	}
	if len(persons) != 3 || len(fetcher.fetched) != 3 {
		t.Fatalf("expected 3 fetches, got %d persons / %d calls", len(persons), len(fetcher.fetched))
	}
}

func TestRegistryResolvesByName(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&stubAdapter{name: "acme-crm"})

	adapter, err := registry.Get("acme-crm")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if adapter.Name() != "acme-crm" {
		t.Fatalf("unexpected adapter %q", adapter.Name())
	}

	if _, err := registry.Get("unknown"); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	registry := NewRegistry()
	registry.Register(&stubAdapter{name: "dup"})
	registry.Register(&stubAdapter{name: "dup"})
}
