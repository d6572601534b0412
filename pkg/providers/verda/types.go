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

package verda

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/verda-cloud/verda-cloud-provider/pkg/cloudprovider"
)

type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type instance struct {
	ID           string    `json:"id"`
	InstanceType string    `json:"instance_type"`
	Image        string    `json:"image"`
	Hostname     string    `json:"hostname"`
	Description  string    `json:"description"`
	Location     string    `json:"location"`
	Status       string    `json:"status"`
	IsSpot       bool      `json:"is_spot"`
	CreatedAt    time.Time `json:"created_at"`
}

func (i *instance) toInstance() *cloudprovider.Instance {
	return &cloudprovider.Instance{
		ID:           i.ID,
		Hostname:     i.Hostname,
		Description:  i.Description,
		InstanceType: i.InstanceType,
		Image:        i.Image,
		Location:     i.Location,
		Status:       cloudprovider.InstanceStatus(i.Status),
		IsSpot:       i.IsSpot,
		CreatedAt:    i.CreatedAt,
	}
}

type createInstanceRequest struct {
	InstanceType    string   `json:"instance_type"`
	Image           string   `json:"image"`
	Hostname        string   `json:"hostname"`
	Description     string   `json:"description"`
	LocationCode    string   `json:"location_code"`
	SSHKeyIDs       []string `json:"ssh_key_ids"`
	StartupScriptID string   `json:"startup_script_id,omitempty"`
	Contract        string   `json:"contract,omitempty"`
	Pricing         string   `json:"pricing,omitempty"`
	IsSpot          bool     `json:"is_spot"`
}

type instanceActionRequest struct {
	Action string `json:"action"`
	ID     string `json:"id"`
}

type quantity struct {
	Count       int    `json:"number_of_cores,omitempty"`
	GPUs        int    `json:"number_of_gpus,omitempty"`
	SizeGB      int    `json:"size_in_gigabytes,omitempty"`
	Description string `json:"description,omitempty"`
}

type instanceType struct {
	InstanceType string   `json:"instance_type"`
	PricePerHour price    `json:"price_per_hour"`
	SpotPrice    price    `json:"spot_price"`
	CPU          quantity `json:"cpu"`
	GPU          quantity `json:"gpu"`
	Memory       quantity `json:"memory"`
	GPUMemory    quantity `json:"gpu_memory"`
}

func (it *instanceType) toInstanceType() *cloudprovider.InstanceType {
	return &cloudprovider.InstanceType{
		Name:          it.InstanceType,
		CPUCores:      it.CPU.Count,
		MemoryGB:      it.Memory.SizeGB,
		GPUCount:      it.GPU.GPUs,
		GPUModel:      it.GPU.Description,
		GPUMemoryGB:   it.GPUMemory.SizeGB,
		OnDemandPrice: float64(it.PricePerHour),
		SpotPrice:     float64(it.SpotPrice),
	}
}

// price is sent by the API either as a JSON number or as a decimal string
type price float64

func (p *price) UnmarshalJSON(raw []byte) error {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return fmt.Errorf("decoding price %s, %w", raw, err)
		}
		*p = price(f)
		return nil
	}
	if s == "" {
		*p = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("decoding price %q, %w", s, err)
	}
	*p = price(f)
	return nil
}

type startupScript struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Script string `json:"script"`
}

type createStartupScriptRequest struct {
	Name   string `json:"name"`
	Script string `json:"script"`
}

type deleteStartupScriptsRequest struct {
	Scripts []string `json:"scripts"`
}

// apiError is the body of every non 2xx response
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
