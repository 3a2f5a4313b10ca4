package s3

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

func assumeRole(cfg aws.Config, o *options) aws.CredentialsProvider {
	return stscreds.NewAssumeRoleProvider(sts.NewFromConfig(cfg), o.roleARN, func(ro *stscreds.AssumeRoleOptions) {
		ro.RoleSessionName = o.roleSessionName
		if o.externalID != "" {
			ro.ExternalID = aws.String(o.externalID)
		}
	})
}
