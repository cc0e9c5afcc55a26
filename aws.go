package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/smithy-go"
)

// ec2API is the subset of *ec2.Client used to manage benchmark instances.
type ec2API interface {
	CreateKeyPair(ctx context.Context, in *ec2.CreateKeyPairInput, optFns ...func(*ec2.Options)) (*ec2.CreateKeyPairOutput, error)
	DescribeInstanceTypes(ctx context.Context, in *ec2.DescribeInstanceTypesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstanceTypesOutput, error)
	DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	RunInstances(ctx context.Context, in *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	TerminateInstances(ctx context.Context, in *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
}

type iamAPI interface {
	GetUser(ctx context.Context, in *iam.GetUserInput, optFns ...func(*iam.Options)) (*iam.GetUserOutput, error)
}

// Ubuntu Server 24.04 LTS (HVM), SSD Volume Type, us-east-2
const (
	x86AMI = "ami-0ea3c35c5c3284d82"
	armAMI = "ami-01ebf7c0e446f85f9"
)

const defaultSecurityGroup = "sg-02718b1d52ed88934"

type instanceArch uint8

const (
	archUnknown instanceArch = iota
	archArm
	archX86
)

// GOARCH returns the value to cross compile the test binary with.
func (a instanceArch) GOARCH() string {
	switch a {
	case archArm:
		return "arm64"
	case archX86:
		return "amd64"
	default:
		return "unknown"
	}
}

func (a instanceArch) ami() string {
	if a == archArm {
		return armAMI
	}
	return x86AMI
}

// cloud holds the AWS clients and the identity used to tag and reach the
// instances it starts.
type cloud struct {
	ec2 ec2API
	iam iamAPI

	out           io.Writer
	instanceType  string
	securityGroup string
	keyDir        string

	userName string
	keyName  string

	waitTimeout   time.Duration
	dialTimeout   time.Duration
	probeAttempts int
	probeInterval time.Duration
	dial          func(network, address string, timeout time.Duration) (net.Conn, error)
}

func newCloud(ctx context.Context, opts benchOptions, out io.Writer) (*cloud, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(opts.region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("unable to locate home directory: %w", err)
	}

	c := newCloudWithClients(ec2.NewFromConfig(cfg), iam.NewFromConfig(cfg), out)
	c.instanceType = opts.instanceType
	c.securityGroup = opts.securityGroup
	c.keyDir = filepath.Join(home, ".ssh")
	return c, nil
}

func newCloudWithClients(ec2Client ec2API, iamClient iamAPI, out io.Writer) *cloud {
	return &cloud{
		ec2:           ec2Client,
		iam:           iamClient,
		out:           out,
		instanceType:  "t2.micro",
		securityGroup: defaultSecurityGroup,
		waitTimeout:   2 * time.Minute,
		dialTimeout:   30 * time.Second,
		probeAttempts: 5,
		probeInterval: 5 * time.Second,
		dial:          net.DialTimeout,
	}
}

// ensureKeyPair resolves the IAM user and makes sure an EC2 key pair named
// after it exists. The private key is only returned on creation; if the pair
// already exists the .pem written by an earlier run is reused.
func (c *cloud) ensureKeyPair(ctx context.Context) error {
	user, err := c.iam.GetUser(ctx, &iam.GetUserInput{})
	if err != nil {
		return fmt.Errorf("unable to get user: %w", err)
	}
	if user.User == nil || user.User.UserName == nil {
		return errors.New("unable to get user: empty response")
	}
	c.userName = *user.User.UserName
	c.keyName = "shownotes-" + c.userName

	result, err := c.ec2.CreateKeyPair(ctx, &ec2.CreateKeyPairInput{
		KeyName: aws.String(c.keyName),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidKeyPair.Duplicate" {
			return nil
		}
		return fmt.Errorf("unable to create key pair %s: %w", c.keyName, err)
	}

	if err := os.MkdirAll(c.keyDir, 0o700); err != nil {
		return fmt.Errorf("unable to create %s: %w", c.keyDir, err)
	}
	if err := os.WriteFile(c.privateKeyPath(), []byte(aws.ToString(result.KeyMaterial)), 0o600); err != nil {
		return fmt.Errorf("unable to write private key to file: %w", err)
	}
	return nil
}

func (c *cloud) instanceArch(ctx context.Context) (instanceArch, error) {
	res, err := c.ec2.DescribeInstanceTypes(ctx, &ec2.DescribeInstanceTypesInput{
		InstanceTypes: []types.InstanceType{types.InstanceType(c.instanceType)},
	})
	if err != nil {
		return archUnknown, fmt.Errorf("unable to describe instance types: %w", err)
	}
	if len(res.InstanceTypes) == 0 || res.InstanceTypes[0].ProcessorInfo == nil ||
		len(res.InstanceTypes[0].ProcessorInfo.SupportedArchitectures) == 0 {
		return archUnknown, fmt.Errorf("unknown instance type %q", c.instanceType)
	}

	if res.InstanceTypes[0].ProcessorInfo.SupportedArchitectures[0] == types.ArchitectureTypeArm64 {
		return archArm, nil
	}
	return archX86, nil
}

// startInstance launches one instance and returns once its SSH port answers.
// On any failure after launch the instance is terminated.
func (c *cloud) startInstance(ctx context.Context, arch instanceArch) (publicIP, instanceID string, err error) {
	instanceName := fmt.Sprintf("shownotes/%s/%s", c.userName, randString(7))

	runResult, err := c.ec2.RunInstances(ctx, &ec2.RunInstancesInput{
		ImageId:          aws.String(arch.ami()),
		InstanceType:     types.InstanceType(c.instanceType),
		MinCount:         aws.Int32(1),
		MaxCount:         aws.Int32(1),
		KeyName:          aws.String(c.keyName),
		SecurityGroupIds: []string{c.securityGroup},
		TagSpecifications: []types.TagSpecification{
			{
				ResourceType: types.ResourceTypeInstance,
				Tags: []types.Tag{
					{Key: aws.String("shownotes"), Value: aws.String(c.userName)},
					{Key: aws.String("Name"), Value: aws.String(instanceName)},
				},
			},
		},
	})
	if err != nil {
		return "", "", fmt.Errorf("unable to run instance: %w", err)
	}
	if len(runResult.Instances) != 1 {
		return "", "", fmt.Errorf("expected 1 instance, got %d", len(runResult.Instances))
	}
	instanceID = aws.ToString(runResult.Instances[0].InstanceId)

	fail := func(err error) (string, string, error) {
		_ = c.terminateInstance(context.WithoutCancel(ctx), instanceID)
		return "", "", err
	}

	waiter := ec2.NewInstanceRunningWaiter(c.ec2)
	described, err := waiter.WaitForOutput(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	}, c.waitTimeout)
	if err != nil {
		return fail(fmt.Errorf("error waiting for instance to be running: %w", err))
	}
	if len(described.Reservations) == 0 || len(described.Reservations[0].Instances) == 0 ||
		described.Reservations[0].Instances[0].PublicIpAddress == nil {
		return fail(fmt.Errorf("instance %s has no public IP", instanceID))
	}
	publicIP = *described.Reservations[0].Instances[0].PublicIpAddress

	// the instance is "running" well before sshd accepts connections
	addr := net.JoinHostPort(publicIP, "22")
	for i := 0; i < c.probeAttempts; i++ {
		conn, err := c.dial("tcp", addr, c.dialTimeout)
		if err == nil {
			conn.Close()
			if err := sleepContext(ctx, c.probeInterval); err != nil {
				return fail(err)
			}
			return publicIP, instanceID, nil
		}
		if err := sleepContext(ctx, c.probeInterval); err != nil {
			return fail(err)
		}
	}

	return fail(fmt.Errorf("unable to connect to instance %s", instanceID))
}

func (c *cloud) terminateInstance(ctx context.Context, instanceID string) error {
	fmt.Fprintf(c.out, "terminating instance %s\n", instanceID)
	_, err := c.ec2.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		err = fmt.Errorf("unable to terminate instance %s: %w", instanceID, err)
		fmt.Fprintln(c.out, "error:", err)
		return err
	}
	return nil
}

func (c *cloud) privateKeyPath() string {
	return filepath.Join(c.keyDir, c.keyName+".pem")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
