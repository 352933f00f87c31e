/*
Copyright © 2025 Jayson Grace <jayson.e.grace@gmail.com>

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/

// Package ec2 implements a broker.Provider that launches short-lived EC2
// instances directly in the caller's AWS account.
//
// Each lease is one instance started from the newest image matching the
// profile's owner and name pattern. The lease's public key is installed for
// root through cloud-init, and the instance powers itself off after
// aws.max_lifetime. Instances terminate on shutdown, so a lease that is
// never released still goes away.
package ec2

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsec2 "github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/cowdogmoo/containmint/broker"
	"github.com/cowdogmoo/containmint/config"
	"github.com/cowdogmoo/containmint/errors"
	"github.com/cowdogmoo/containmint/logging"
)

// LeaseTag marks instances launched by containmint. Its value is the lease
// token used as the RunInstances client token.
const LeaseTag = "containmint:lease"

// imageArchitectures maps build architectures onto EC2 architecture names.
var imageArchitectures = map[string]ec2types.ArchitectureValues{
	"x86_64":  ec2types.ArchitectureValuesX8664,
	"aarch64": ec2types.ArchitectureValuesArm64,
}

// Provider leases EC2 instances.
type Provider struct {
	client  EC2API
	cfg     config.AWSConfig
	sshPort int
}

var _ broker.Provider = (*Provider)(nil)

// New creates a Provider using client.
func New(client EC2API, cfg config.AWSConfig, sshPort int) *Provider {
	if sshPort <= 0 {
		sshPort = 22
	}
	return &Provider{client: client, cfg: cfg, sshPort: sshPort}
}

// Name implements broker.Provider.
func (p *Provider) Name() string {
	return "ec2"
}

// Request implements broker.Provider. The returned lease ID is the
// instance ID.
func (p *Provider) Request(ctx context.Context, req broker.LeaseRequest) (string, error) {
	archValue, ok := imageArchitectures[req.Arch]
	if !ok {
		return "", errors.NewConfigError("arch", "unsupported architecture %q", req.Arch)
	}
	instanceType := p.cfg.InstanceTypes[req.Arch]
	if instanceType == "" {
		return "", errors.NewConfigError("aws.instance_types", "no instance type configured for %s", req.Arch)
	}

	image, err := p.resolveImage(ctx, req.Profile, archValue)
	if err != nil {
		return "", err
	}

	userData, err := p.userData(req.PublicKey)
	if err != nil {
		return "", err
	}

	// A retried request reuses the token, so EC2 returns the instance it
	// already launched instead of starting another.
	token := req.ID
	if token == "" {
		token = uuid.NewString()
	}
	input := &awsec2.RunInstancesInput{
		ImageId:                           image.ImageId,
		InstanceType:                      ec2types.InstanceType(instanceType),
		MinCount:                          aws.Int32(1),
		MaxCount:                          aws.Int32(1),
		ClientToken:                       aws.String(token),
		UserData:                          aws.String(userData),
		InstanceInitiatedShutdownBehavior: ec2types.ShutdownBehaviorTerminate,
		TagSpecifications: []ec2types.TagSpecification{
			{ResourceType: ec2types.ResourceTypeInstance, Tags: p.tags(token, req)},
			{ResourceType: ec2types.ResourceTypeVolume, Tags: p.tags(token, req)},
		},
	}
	if p.cfg.VolumeSize > 0 && image.RootDeviceName != nil {
		input.BlockDeviceMappings = []ec2types.BlockDeviceMapping{{
			DeviceName: image.RootDeviceName,
			Ebs: &ec2types.EbsBlockDevice{
				VolumeSize:          aws.Int32(int32(p.cfg.VolumeSize)),
				VolumeType:          ec2types.VolumeTypeGp3,
				DeleteOnTermination: aws.Bool(true),
			},
		}}
	}
	if p.cfg.SubnetID != "" || len(p.cfg.SecurityGroups) > 0 {
		input.NetworkInterfaces = []ec2types.InstanceNetworkInterfaceSpecification{{
			DeviceIndex:              aws.Int32(0),
			AssociatePublicIpAddress: aws.Bool(true),
			SubnetId:                 lo.EmptyableToPtr(p.cfg.SubnetID),
			Groups:                   p.cfg.SecurityGroups,
			DeleteOnTermination:      aws.Bool(true),
		}}
	}

	logging.DebugContext(ctx, "Launching %s from %s (%s)", instanceType, aws.ToString(image.ImageId), aws.ToString(image.Name))

	out, err := p.client.RunInstances(ctx, input)
	if err != nil {
		return "", classify("failed to launch instance", err)
	}
	if len(out.Instances) == 0 || out.Instances[0].InstanceId == nil {
		return "", errors.New("RunInstances returned no instance")
	}
	return aws.ToString(out.Instances[0].InstanceId), nil
}

// resolveImage finds the newest available image for profile and arch.
func (p *Provider) resolveImage(ctx context.Context, profile config.Profile, arch ec2types.ArchitectureValues) (*ec2types.Image, error) {
	if profile.EC2.NamePattern == "" {
		return nil, errors.NewConfigError("profiles", "profile %s has no ec2 image", profile.Name)
	}

	input := &awsec2.DescribeImagesInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("name"), Values: []string{profile.EC2.NamePattern}},
			{Name: aws.String("architecture"), Values: []string{string(arch)}},
			{Name: aws.String("state"), Values: []string{string(ec2types.ImageStateAvailable)}},
		},
	}
	if profile.EC2.Owner != "" {
		input.Owners = []string{profile.EC2.Owner}
	}

	out, err := p.client.DescribeImages(ctx, input)
	if err != nil {
		return nil, classify("failed to look up image", err)
	}
	if len(out.Images) == 0 {
		return nil, fmt.Errorf("no %s image matches %q for profile %s", arch, profile.EC2.NamePattern, profile.Name)
	}

	images := out.Images
	// CreationDate is ISO 8601, so lexical order is chronological.
	sort.SliceStable(images, func(i, j int) bool {
		return aws.ToString(images[i].CreationDate) > aws.ToString(images[j].CreationDate)
	})
	return &images[0], nil
}

type cloudConfig struct {
	DisableRoot       bool       `yaml:"disable_root"`
	SSHAuthorizedKeys []string   `yaml:"ssh_authorized_keys"`
	RunCmd            [][]string `yaml:"runcmd,omitempty"`
}

// userData renders the cloud-init configuration that authorizes the lease
// key for root and schedules the instance's own shutdown.
func (p *Provider) userData(publicKey string) (string, error) {
	cc := cloudConfig{
		DisableRoot:       false,
		SSHAuthorizedKeys: []string{publicKey},
	}
	if minutes := int(p.cfg.MaxLifetime.Minutes()); minutes > 0 {
		cc.RunCmd = [][]string{{"shutdown", "-P", fmt.Sprintf("+%d", minutes)}}
	}

	data, err := yaml.Marshal(cc)
	if err != nil {
		return "", errors.Wrap("render user data", "", err)
	}
	return base64.StdEncoding.EncodeToString(append([]byte("#cloud-config\n"), data...)), nil
}

func (p *Provider) tags(token string, req broker.LeaseRequest) []ec2types.Tag {
	tags := []ec2types.Tag{
		{Key: aws.String(LeaseTag), Value: aws.String(token)},
		{Key: aws.String("Name"), Value: aws.String(fmt.Sprintf("containmint-%s-%s", req.Profile.Platform, req.Arch))},
	}
	keys := lo.Keys(p.cfg.Tags)
	sort.Strings(keys)
	for _, k := range keys {
		tags = append(tags, ec2types.Tag{Key: aws.String(k), Value: aws.String(p.cfg.Tags[k])})
	}
	return tags
}

// Poll implements broker.Provider.
func (p *Provider) Poll(ctx context.Context, id string) (*broker.PollResult, error) {
	out, err := p.client.DescribeInstances(ctx, &awsec2.DescribeInstancesInput{InstanceIds: []string{id}})
	if err != nil {
		err = classify("failed to describe instance", err)
		if errors.Is(err, broker.ErrNotFound) {
			// New instances can take a moment to become visible.
			return &broker.PollResult{Status: broker.StatusPending}, nil
		}
		return nil, err
	}

	var instance *ec2types.Instance
	for _, r := range out.Reservations {
		for i := range r.Instances {
			if aws.ToString(r.Instances[i].InstanceId) == id {
				instance = &r.Instances[i]
			}
		}
	}
	if instance == nil || instance.State == nil {
		return &broker.PollResult{Status: broker.StatusPending}, nil
	}

	res := &broker.PollResult{}
	if instance.LaunchTime != nil && p.cfg.MaxLifetime > 0 {
		res.Expiry = instance.LaunchTime.Add(p.cfg.MaxLifetime)
	}

	switch instance.State.Name {
	case ec2types.InstanceStateNameRunning:
		if instance.PublicIpAddress == nil {
			res.Status = broker.StatusPending
			return res, nil
		}
		res.Status = broker.StatusReady
		res.Host = aws.ToString(instance.PublicIpAddress)
		res.Port = p.sshPort
		res.User = "root"
	case ec2types.InstanceStateNamePending:
		res.Status = broker.StatusPending
	default:
		res.Status = broker.StatusFailed
		res.Message = fmt.Sprintf("instance is %s", instance.State.Name)
		if instance.StateReason != nil && instance.StateReason.Message != nil {
			res.Message += ": " + aws.ToString(instance.StateReason.Message)
		}
	}
	return res, nil
}

// Release implements broker.Provider.
func (p *Provider) Release(ctx context.Context, id string) error {
	_, err := p.client.TerminateInstances(ctx, &awsec2.TerminateInstancesInput{InstanceIds: []string{id}})
	if err != nil {
		return classify("failed to terminate instance", err)
	}
	return nil
}
