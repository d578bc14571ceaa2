// Copyright Project Flowplane Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package xds

import (
	"strconv"
	"sync/atomic"

	envoy_service_discovery_v3 "github.com/envoyproxy/go-control-plane/envoy/service/discovery/v3"
	resource_v3 "github.com/envoyproxy/go-control-plane/pkg/resource/v3"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/flowplane/flowplane/internal/metrics"
	"github.com/flowplane/flowplane/internal/xdscache"
)

// recvQueueDepth bounds how far a client's requests may run ahead of the
// handler loop before the stream blocks.
const recvQueueDepth = 100

// supportedTypeURLs lists the resource types this server delivers.
var supportedTypeURLs = map[string]bool{
	resource_v3.ClusterType:  true,
	resource_v3.RouteType:    true,
	resource_v3.ListenerType: true,
	resource_v3.SecretType:   true,
}

// Handler implements the aggregated discovery service against the
// resource cache using the state-of-the-world protocol.
type Handler struct {
	log     logrus.FieldLogger
	cache   *xdscache.Cache
	metrics *metrics.Metrics

	streamCount uint64
}

func NewHandler(log logrus.FieldLogger, cache *xdscache.Cache, m *metrics.Metrics) *Handler {
	return &Handler{
		log:     log,
		cache:   cache,
		metrics: m,
	}
}

// typeState is the per-stream bookkeeping for one resource type.
type typeState struct {
	names       []string
	sentVersion int64
	lastNonce   string
}

// StreamAggregatedResources serves one discovery stream: requests arrive
// on a receive goroutine, cache change notifications on a registration
// channel, and the loop below serializes responses.
func (h *Handler) StreamAggregatedResources(st envoy_service_discovery_v3.AggregatedDiscoveryService_StreamAggregatedResourcesServer) error {
	streamID := atomic.AddUint64(&h.streamCount, 1)
	log := h.log.WithField("stream_id", streamID)

	h.metrics.StreamOpened()
	defer h.metrics.StreamClosed()

	ctx := st.Context()

	reqs := make(chan *envoy_service_discovery_v3.DiscoveryRequest, recvQueueDepth)
	recvErr := make(chan error, 1)
	go func() {
		defer close(reqs)
		for {
			req, err := st.Recv()
			if err != nil {
				recvErr <- err
				return
			}
			select {
			case reqs <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	states := map[string]*typeState{}
	updates := make(chan int64, 1)
	lastSeen := h.cache.Version()
	registered := false

	for {
		select {
		case req, ok := <-reqs:
			if !ok {
				return <-recvErr
			}
			if err := h.handleRequest(st, log, states, req); err != nil {
				return err
			}
		case version := <-updates:
			registered = false
			lastSeen = version
			for typeURL, state := range states {
				if err := h.send(st, log, typeURL, state); err != nil {
					return err
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}

		// One live registration at a time: the cache fires each one once,
		// so re-arming while armed would pile up duplicate waiters.
		if !registered {
			h.cache.Register(updates, lastSeen)
			registered = true
		}
	}
}

func (h *Handler) handleRequest(st envoy_service_discovery_v3.AggregatedDiscoveryService_StreamAggregatedResourcesServer, log logrus.FieldLogger, states map[string]*typeState, req *envoy_service_discovery_v3.DiscoveryRequest) error {
	if !supportedTypeURLs[req.TypeUrl] {
		return status.Errorf(codes.InvalidArgument, "no resource registered for type URL %q", req.TypeUrl)
	}

	log = log.WithFields(logrus.Fields{
		"type_url":       req.TypeUrl,
		"version_info":   req.VersionInfo,
		"response_nonce": req.ResponseNonce,
		"resource_names": req.ResourceNames,
		"node_id":        req.Node.GetId(),
	})

	state, known := states[req.TypeUrl]
	if !known {
		state = &typeState{}
		states[req.TypeUrl] = state
	}

	// A nonce from a response this stream did not just send is stale:
	// the client is answering an earlier response and a fresher one is
	// already in flight.
	if req.ResponseNonce != "" && req.ResponseNonce != state.lastNonce {
		log.Debug("skipping stale request")
		return nil
	}

	if req.ErrorDetail != nil {
		h.metrics.NACKReceived(req.TypeUrl)
		log.WithField("code", req.ErrorDetail.Code).
			WithField("message", req.ErrorDetail.Message).
			Error("client rejected configuration")
		// The rejected version stays recorded as sent so the same
		// payload is not pushed again until the cache moves on.
		return nil
	}

	if known && req.ResponseNonce != "" && sameNames(state.names, req.ResourceNames) {
		// Plain ACK: nothing new to deliver.
		log.Debug("request acknowledged")
		return nil
	}

	state.names = req.ResourceNames
	// Force a send for new subscriptions or changed name sets.
	state.sentVersion = 0
	return h.send(st, log, req.TypeUrl, state)
}

func (h *Handler) send(st envoy_service_discovery_v3.AggregatedDiscoveryService_StreamAggregatedResourcesServer, log logrus.FieldLogger, typeURL string, state *typeState) error {
	version := h.cache.Version()
	if version <= state.sentVersion {
		return nil
	}

	resources := h.cache.Contents(typeURL)
	if len(state.names) > 0 {
		resources = h.cache.Query(typeURL, state.names)
	}

	resp := &envoy_service_discovery_v3.DiscoveryResponse{
		VersionInfo: strconv.FormatInt(version, 10),
		Resources:   resources,
		TypeUrl:     typeURL,
		Nonce:       uuid.New().String(),
	}
	if err := st.Send(resp); err != nil {
		return err
	}

	state.sentVersion = version
	state.lastNonce = resp.Nonce
	h.metrics.ResponseSent(typeURL)

	log.WithFields(logrus.Fields{
		"version":   resp.VersionInfo,
		"nonce":     resp.Nonce,
		"resources": len(resources),
	}).Debug("response sent")
	return nil
}

// DeltaAggregatedResources is not implemented: this server speaks
// state-of-the-world only.
func (h *Handler) DeltaAggregatedResources(envoy_service_discovery_v3.AggregatedDiscoveryService_DeltaAggregatedResourcesServer) error {
	return status.Error(codes.Unimplemented, "incremental xDS is not supported")
}

func sameNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
