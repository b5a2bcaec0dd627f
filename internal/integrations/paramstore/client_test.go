package paramstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

// fakeAPI is a simple fake implementing ssmAPI for tests.
type fakeAPI struct {
	getOut   *ssm.GetParameterOutput
	getErr   error
	known    map[string]string
	batchErr error
	batches  [][]string
}

func (f *fakeAPI) GetParameter(_ context.Context, _ *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	return f.getOut, f.getErr
}

func (f *fakeAPI) GetParameters(_ context.Context, in *ssm.GetParametersInput, _ ...func(*ssm.Options)) (*ssm.GetParametersOutput, error) {
	f.batches = append(f.batches, in.Names)
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	out := &ssm.GetParametersOutput{}
	for _, n := range in.Names {
		v, ok := f.known[n]
		if !ok {
			out.InvalidParameters = append(out.InvalidParameters, n)
			continue
		}
		out.Parameters = append(out.Parameters, types.Parameter{Name: strPtr(n), Value: strPtr(v)})
	}
	return out, nil
}

func strPtr(s string) *string { return &s }

func TestGetParameter_HappyPath(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{
		Name: strPtr("p"), Value: strPtr(`{"token":"v"}`),
	}}}
	client, err := New(api)
	require.NoError(t, err)
	v, err := client.GetParameter(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, `{"token":"v"}`, v)
}

func TestGetParameter_MissingValue(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: strPtr("p"), Value: nil}}}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing value")
}

func TestGetParameter_ApiError(t *testing.T) {
	api := &fakeAPI{getErr: errors.New("boom")}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.ErrorContains(t, err, "boom")
}

func TestGetParameter_ClientNotInitialized(t *testing.T) {
	_, err := (&Client{}).GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not initialized")
}

func TestGetParameter_EmptyName(t *testing.T) {
	client, err := New(&fakeAPI{})
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "  ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "required")
}

func TestGetOptional_SkipsUnknownNames(t *testing.T) {
	api := &fakeAPI{known: map[string]string{"/loanflash/database-url": "postgres://x"}}
	client, err := New(api)
	require.NoError(t, err)

	got, err := client.GetOptional(context.Background(), "/loanflash/database-url", "/loanflash/redis-password", " ")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"/loanflash/database-url": "postgres://x"}, got)
	require.Len(t, api.batches, 1)
	require.Len(t, api.batches[0], 2)
}

func TestGetOptional_Batches(t *testing.T) {
	api := &fakeAPI{known: map[string]string{}}
	names := make([]string, 0, 23)
	for i := 0; i < 23; i++ {
		n := fmt.Sprintf("/p/%d", i)
		api.known[n] = "v"
		names = append(names, n)
	}
	client, err := New(api)
	require.NoError(t, err)

	got, err := client.GetOptional(context.Background(), names...)
	require.NoError(t, err)
	require.Len(t, got, 23)
	require.Len(t, api.batches, 3)
}

func TestGetOptional_ApiError(t *testing.T) {
	client, err := New(&fakeAPI{batchErr: errors.New("throttled")})
	require.NoError(t, err)
	_, err = client.GetOptional(context.Background(), "/p/a")
	require.ErrorContains(t, err, "throttled")
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}
