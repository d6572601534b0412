/*
Copyright The Verda Cloud Provider Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package server exposes the node group engine through the cluster-autoscaler external gRPC cloud provider
// contract.
package server

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	"google.golang.org/protobuf/types/known/timestamppb"
	v1 "k8s.io/api/core/v1"
	"k8s.io/autoscaler/cluster-autoscaler/cloudprovider/externalgrpc/protos"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/verda-cloud/verda-cloud-provider/pkg/apis/config"
	apisv1 "github.com/verda-cloud/verda-cloud-provider/pkg/apis/v1"
	"github.com/verda-cloud/verda-cloud-provider/pkg/cloudprovider"
	"github.com/verda-cloud/verda-cloud-provider/pkg/nodegroup"
	"github.com/verda-cloud/verda-cloud-provider/pkg/nodetemplate"
	"github.com/verda-cloud/verda-cloud-provider/pkg/pricing"
)

var _ protos.CloudProviderServer = (*Server)(nil)

// Server translates autoscaler requests into engine operations. It holds no state of its own.
type Server struct {
	protos.UnimplementedCloudProviderServer

	engine     *nodegroup.Engine
	templates  *nodetemplate.Builder
	calculator *pricing.Calculator
}

func NewServer(engine *nodegroup.Engine, templates *nodetemplate.Builder, calculator *pricing.Calculator) *Server {
	return &Server{
		engine:     engine,
		templates:  templates,
		calculator: calculator,
	}
}

func (s *Server) NodeGroups(_ context.Context, _ *protos.NodeGroupsRequest) (*protos.NodeGroupsResponse, error) {
	return &protos.NodeGroupsResponse{
		NodeGroups: lo.Map(s.engine.Registry().Groups(), func(g *nodegroup.Group, _ int) *protos.NodeGroup { return nodeGroup(g.Config) }),
	}, nil
}

// NodeGroupForNode answers with an empty node group for nodes no group owns, which tells the autoscaler to
// leave them alone.
func (s *Server) NodeGroupForNode(ctx context.Context, req *protos.NodeGroupForNodeRequest) (*protos.NodeGroupForNodeResponse, error) {
	if req.GetNode() == nil {
		return nil, grpcError(cloudprovider.NewInvalidArgumentError(fmt.Errorf("node is required")))
	}
	g, err := s.engine.GroupForProviderID(ctx, req.GetNode().GetProviderID())
	if cloudprovider.IsNotFoundError(err) {
		log.FromContext(ctx).V(1).Info("node is not managed by any node group", "providerID", req.GetNode().GetProviderID())
		return &protos.NodeGroupForNodeResponse{NodeGroup: &protos.NodeGroup{}}, nil
	}
	if err != nil {
		return nil, grpcError(err)
	}
	return &protos.NodeGroupForNodeResponse{NodeGroup: nodeGroup(g.Config)}, nil
}

func (s *Server) NodeGroupTargetSize(ctx context.Context, req *protos.NodeGroupTargetSizeRequest) (*protos.NodeGroupTargetSizeResponse, error) {
	size, err := s.engine.TargetSize(ctx, req.GetId())
	if err != nil {
		return nil, grpcError(err)
	}
	return &protos.NodeGroupTargetSizeResponse{TargetSize: size}, nil
}

func (s *Server) NodeGroupIncreaseSize(ctx context.Context, req *protos.NodeGroupIncreaseSizeRequest) (*protos.NodeGroupIncreaseSizeResponse, error) {
	if err := s.engine.IncreaseSize(ctx, req.GetId(), req.GetDelta()); err != nil {
		return nil, grpcError(err)
	}
	return &protos.NodeGroupIncreaseSizeResponse{}, nil
}

func (s *Server) NodeGroupDeleteNodes(ctx context.Context, req *protos.NodeGroupDeleteNodesRequest) (*protos.NodeGroupDeleteNodesResponse, error) {
	providerIDs := lo.Map(req.GetNodes(), func(n *protos.ExternalGrpcNode, _ int) string { return n.GetProviderID() })
	if err := s.engine.DeleteNodes(ctx, req.GetId(), providerIDs); err != nil {
		return nil, grpcError(err)
	}
	return &protos.NodeGroupDeleteNodesResponse{}, nil
}

func (s *Server) NodeGroupDecreaseTargetSize(ctx context.Context, req *protos.NodeGroupDecreaseTargetSizeRequest) (*protos.NodeGroupDecreaseTargetSizeResponse, error) {
	if err := s.engine.DecreaseTargetSize(ctx, req.GetId(), req.GetDelta()); err != nil {
		return nil, grpcError(err)
	}
	return &protos.NodeGroupDecreaseTargetSizeResponse{}, nil
}

func (s *Server) NodeGroupNodes(ctx context.Context, req *protos.NodeGroupNodesRequest) (*protos.NodeGroupNodesResponse, error) {
	records, err := s.engine.Nodes(ctx, req.GetId())
	if err != nil {
		return nil, grpcError(err)
	}
	return &protos.NodeGroupNodesResponse{
		Instances: lo.Map(records, func(r *nodegroup.InstanceRecord, _ int) *protos.Instance { return instance(r) }),
	}, nil
}

func (s *Server) NodeGroupTemplateNodeInfo(ctx context.Context, req *protos.NodeGroupTemplateNodeInfoRequest) (*protos.NodeGroupTemplateNodeInfoResponse, error) {
	node, err := s.templates.Build(ctx, req.GetId())
	if err != nil {
		return nil, grpcError(err)
	}
	raw, err := node.Marshal()
	if err != nil {
		return nil, grpcError(fmt.Errorf("encoding template node, %w", err))
	}
	return &protos.NodeGroupTemplateNodeInfoResponse{NodeBytes: raw}, nil
}

func (s *Server) NodeGroupGetOptions(_ context.Context, req *protos.NodeGroupAutoscalingOptionsRequest) (*protos.NodeGroupAutoscalingOptionsResponse, error) {
	g, err := s.engine.Registry().Lookup(req.GetId())
	if err != nil {
		return nil, grpcError(err)
	}
	merged, err := MergeAutoscalingOptions(g.Config.AutoscalingOptions, req.GetDefaults())
	if err != nil {
		return nil, grpcError(err)
	}
	return &protos.NodeGroupAutoscalingOptionsResponse{NodeGroupAutoscalingOptions: merged}, nil
}

func (s *Server) GPULabel(_ context.Context, _ *protos.GPULabelRequest) (*protos.GPULabelResponse, error) {
	return &protos.GPULabelResponse{Label: pricing.GPULabel()}, nil
}

func (s *Server) GetAvailableGPUTypes(ctx context.Context, _ *protos.GetAvailableGPUTypesRequest) (*protos.GetAvailableGPUTypesResponse, error) {
	gpuTypes, err := s.calculator.AvailableGPUTypes(ctx)
	if err != nil {
		return nil, grpcError(err)
	}
	return &protos.GetAvailableGPUTypesResponse{GpuTypes: gpuTypes}, nil
}

func (s *Server) PricingNodePrice(ctx context.Context, req *protos.PricingNodePriceRequest) (*protos.PricingNodePriceResponse, error) {
	start, end, err := window(req.GetStartTimestamp(), req.GetEndTimestamp())
	if err != nil {
		return nil, grpcError(err)
	}
	id, err := s.nodeGroupOf(ctx, req.GetNode())
	if err != nil {
		return nil, grpcError(err)
	}
	price, err := s.calculator.NodePrice(ctx, id, start, end)
	if err != nil {
		return nil, grpcError(err)
	}
	return &protos.PricingNodePriceResponse{Price: price}, nil
}

func (s *Server) PricingPodPrice(ctx context.Context, req *protos.PricingPodPriceRequest) (*protos.PricingPodPriceResponse, error) {
	start, end, err := window(req.GetStartTimestamp(), req.GetEndTimestamp())
	if err != nil {
		return nil, grpcError(err)
	}
	pod := &v1.Pod{}
	if err := pod.Unmarshal(req.GetPodBytes()); err != nil {
		return nil, grpcError(cloudprovider.NewInvalidArgumentError(fmt.Errorf("decoding pod, %w", err)))
	}
	price, err := s.calculator.PodPrice(ctx, pod, start, end)
	if err != nil {
		return nil, grpcError(err)
	}
	return &protos.PricingPodPriceResponse{Price: price}, nil
}

func (s *Server) Refresh(ctx context.Context, _ *protos.RefreshRequest) (*protos.RefreshResponse, error) {
	if err := s.engine.Refresh(ctx); err != nil {
		return nil, grpcError(err)
	}
	return &protos.RefreshResponse{}, nil
}

func (s *Server) Cleanup(ctx context.Context, _ *protos.CleanupRequest) (*protos.CleanupResponse, error) {
	if err := s.engine.Cleanup(ctx); err != nil {
		return nil, grpcError(err)
	}
	return &protos.CleanupResponse{}, nil
}

// nodeGroupOf resolves the group a node belongs to. Template nodes carry the group label but have no
// instance behind them; real nodes are resolved through their providerID.
func (s *Server) nodeGroupOf(ctx context.Context, node *protos.ExternalGrpcNode) (string, error) {
	if node == nil {
		return "", cloudprovider.NewInvalidArgumentError(fmt.Errorf("node is required"))
	}
	if id, ok := node.GetLabels()[apisv1.NodeGroupLabelKey]; ok {
		if _, err := s.engine.Registry().Lookup(id); err == nil {
			return id, nil
		}
	}
	g, err := s.engine.GroupForProviderID(ctx, node.GetProviderID())
	if err != nil {
		return "", err
	}
	return g.Config.ID, nil
}

func nodeGroup(ng *config.NodeGroup) *protos.NodeGroup {
	return &protos.NodeGroup{
		Id:      ng.ID,
		MinSize: ng.MinSize,
		MaxSize: ng.MaxSize,
		Debug:   fmt.Sprintf("verda node group %s (%s in %s)", ng.ID, ng.InstanceType, ng.Location),
	}
}

func instance(r *nodegroup.InstanceRecord) *protos.Instance {
	status := &protos.InstanceStatus{InstanceState: instanceState(r.State)}
	if r.ErrorInfo != nil {
		status.ErrorInfo = &protos.InstanceErrorInfo{
			ErrorCode:          r.ErrorInfo.Code,
			ErrorMessage:       r.ErrorInfo.Message,
			InstanceErrorClass: int32(r.ErrorInfo.Class),
		}
	}
	return &protos.Instance{Id: r.ProviderID, Status: status}
}

func instanceState(state nodegroup.InstanceState) protos.InstanceStatus_InstanceState {
	switch state {
	case nodegroup.InstanceStateRunning:
		return protos.InstanceStatus_instanceRunning
	case nodegroup.InstanceStateCreating:
		return protos.InstanceStatus_instanceCreating
	case nodegroup.InstanceStateDeleting:
		return protos.InstanceStatus_instanceDeleting
	default:
		return protos.InstanceStatus_unspecified
	}
}

func window(start, end *timestamppb.Timestamp) (time.Time, time.Time, error) {
	if start == nil || end == nil {
		return time.Time{}, time.Time{}, cloudprovider.NewInvalidArgumentError(fmt.Errorf("start and end timestamps are required"))
	}
	if err := start.CheckValid(); err != nil {
		return time.Time{}, time.Time{}, cloudprovider.NewInvalidArgumentError(fmt.Errorf("start timestamp, %w", err))
	}
	if err := end.CheckValid(); err != nil {
		return time.Time{}, time.Time{}, cloudprovider.NewInvalidArgumentError(fmt.Errorf("end timestamp, %w", err))
	}
	return start.AsTime(), end.AsTime(), nil
}
