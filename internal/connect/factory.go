package connect

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/sakif/social-connect/internal/apperror"
)

// ConnectionFactory rebuilds connections for one provider.
//
// APIType is the marker callers use to ask for "the connections that speak
// this API" without knowing the provider id. Use APIType[A]() to produce it.
type ConnectionFactory interface {
	ProviderID() string
	APIType() reflect.Type
	CreateConnection(data ConnectionData) (Connection, error)
}

// FactoryLocator resolves factories by provider id or API type.
type FactoryLocator interface {
	Factory(providerID string) (ConnectionFactory, error)
	FactoryForAPI(apiType reflect.Type) (ConnectionFactory, error)

	// ProviderIDs lists every registered provider, sorted.
	ProviderIDs() []string
}

// APIType returns the marker for API type A.
//
//	repo.FindConnectionsForAPI(ctx, connect.APIType[*github.Client]())
func APIType[A any]() reflect.Type {
	return reflect.TypeFor[A]()
}

// Registry is a FactoryLocator filled at start-up. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	byProvider map[string]ConnectionFactory
	byAPI      map[reflect.Type]ConnectionFactory
}

var _ FactoryLocator = (*Registry)(nil)

func NewRegistry() *Registry {
	return &Registry{
		byProvider: make(map[string]ConnectionFactory),
		byAPI:      make(map[reflect.Type]ConnectionFactory),
	}
}

// Register adds a factory. A provider id or API type may only be registered once.
func (r *Registry) Register(f ConnectionFactory) error {
	if f == nil || f.ProviderID() == "" {
		return apperror.InvalidArgument("factory", "connection factory must have a provider id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byProvider[f.ProviderID()]; ok {
		return apperror.InvalidArgument("factory",
			fmt.Sprintf("a connection factory for provider %s is already registered", f.ProviderID()))
	}
	if apiType := f.APIType(); apiType != nil {
		if other, ok := r.byAPI[apiType]; ok {
			return apperror.InvalidArgument("factory",
				fmt.Sprintf("API type %s is already registered by provider %s", apiType, other.ProviderID()))
		}
		r.byAPI[apiType] = f
	}
	r.byProvider[f.ProviderID()] = f
	return nil
}

func (r *Registry) Factory(providerID string) (ConnectionFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.byProvider[providerID]
	if !ok {
		return nil, apperror.UnregisteredProvider(providerID)
	}
	return f, nil
}

func (r *Registry) FactoryForAPI(apiType reflect.Type) (ConnectionFactory, error) {
	if apiType == nil {
		return nil, apperror.InvalidArgument("apiType", "API type must not be nil")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.byAPI[apiType]
	if !ok {
		return nil, apperror.UnregisteredProvider(apiType.String())
	}
	return f, nil
}

func (r *Registry) ProviderIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.byProvider))
	for id := range r.byProvider {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DataFactory builds plain DataConnections. It suits providers whose
// connections carry no API of their own.
type DataFactory struct {
	providerID string
	apiType    reflect.Type
}

var _ ConnectionFactory = (*DataFactory)(nil)

// NewDataFactory registers under providerID with A as the API marker.
func NewDataFactory[A any](providerID string) *DataFactory {
	return &DataFactory{providerID: providerID, apiType: APIType[A]()}
}

func (f *DataFactory) ProviderID() string    { return f.providerID }
func (f *DataFactory) APIType() reflect.Type { return f.apiType }

func (f *DataFactory) CreateConnection(data ConnectionData) (Connection, error) {
	if data.ProviderID != f.providerID {
		return nil, fmt.Errorf("connect: %s factory cannot build a %s connection", f.providerID, data.ProviderID)
	}
	return NewDataConnection(data), nil
}
