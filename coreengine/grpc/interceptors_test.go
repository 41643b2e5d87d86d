package grpc

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jeeves-cluster-organization/lgorch/coreengine/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// =============================================================================
// LOGGING INTERCEPTOR TESTS
// =============================================================================

func TestLoggingInterceptor_Success(t *testing.T) {
	logger := &TestLogger{}
	interceptor := LoggingInterceptor(logger)

	info := &grpc.UnaryServerInfo{FullMethod: "/test.Service/TestMethod"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return "response", nil
	}

	resp, err := interceptor(context.Background(), "request", info, handler)

	require.NoError(t, err)
	assert.Equal(t, "response", resp)

	// Should have logged start and completion
	assert.Len(t, logger.debugCalls, 2)
	assert.Equal(t, "grpc_request_started", logger.debugCalls[0]["msg"])
	assert.Equal(t, "grpc_request_completed", logger.debugCalls[1]["msg"])
	assert.Equal(t, "/test.Service/TestMethod", logger.debugCalls[1]["method"])
}

func TestLoggingInterceptor_Error(t *testing.T) {
	logger := &TestLogger{}
	interceptor := LoggingInterceptor(logger)

	info := &grpc.UnaryServerInfo{FullMethod: "/test.Service/FailMethod"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.NotFound, "resource not found")
	}

	resp, err := interceptor(context.Background(), "request", info, handler)

	require.Error(t, err)
	assert.Nil(t, resp)

	assert.Len(t, logger.debugCalls, 1)
	assert.Equal(t, "grpc_request_started", logger.debugCalls[0]["msg"])
	assert.Len(t, logger.errorCalls, 1)
	assert.Equal(t, "grpc_request_failed", logger.errorCalls[0]["msg"])
	assert.Equal(t, "NotFound", logger.errorCalls[0]["code"])
}

// =============================================================================
// RECOVERY INTERCEPTOR TESTS
// =============================================================================

func TestRecoveryInterceptor_NoPanic(t *testing.T) {
	logger := &TestLogger{}
	interceptor := RecoveryInterceptor(logger, nil)

	info := &grpc.UnaryServerInfo{FullMethod: "/test.Service/SafeMethod"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return "safe response", nil
	}

	resp, err := interceptor(context.Background(), "request", info, handler)

	require.NoError(t, err)
	assert.Equal(t, "safe response", resp)
	assert.Empty(t, logger.errorCalls)
}

func TestRecoveryInterceptor_Panic(t *testing.T) {
	logger := &TestLogger{}
	interceptor := RecoveryInterceptor(logger, nil)

	info := &grpc.UnaryServerInfo{FullMethod: "/test.Service/PanicMethod"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		panic("test panic")
	}

	resp, err := interceptor(context.Background(), "request", info, handler)

	require.Error(t, err)
	assert.Nil(t, resp)

	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.Internal, st.Code())
	assert.Contains(t, st.Message(), "test panic")

	require.Len(t, logger.errorCalls, 1)
	assert.Equal(t, "grpc_panic_recovered", logger.errorCalls[0]["msg"])
	assert.Contains(t, logger.errorCalls[0]["panic"], "test panic")
}

func TestRecoveryInterceptor_CustomHandler(t *testing.T) {
	logger := &TestLogger{}
	customHandler := func(p interface{}) error {
		return status.Errorf(codes.Aborted, "custom: %v", p)
	}
	interceptor := RecoveryInterceptor(logger, customHandler)

	info := &grpc.UnaryServerInfo{FullMethod: "/test.Service/PanicMethod"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		panic("custom panic")
	}

	_, err := interceptor(context.Background(), "request", info, handler)

	require.Error(t, err)
	st, _ := status.FromError(err)
	assert.Equal(t, codes.Aborted, st.Code())
	assert.Contains(t, st.Message(), "custom: custom panic")
}

func TestDefaultRecoveryHandler(t *testing.T) {
	err := DefaultRecoveryHandler("test panic value")

	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.Internal, st.Code())
	assert.Contains(t, st.Message(), "test panic value")
}

// =============================================================================
// METRICS INTERCEPTOR TESTS
// =============================================================================

func TestMetricsInterceptor_StatusCodes(t *testing.T) {
	interceptor := MetricsInterceptor()

	testCases := []struct {
		name string
		code codes.Code
	}{
		{"OK", codes.OK},
		{"InvalidArgument", codes.InvalidArgument},
		{"Internal", codes.Internal},
		{"Canceled", codes.Canceled},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			method := "/test.Service/Metrics" + tc.name
			info := &grpc.UnaryServerInfo{FullMethod: method}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				if tc.code == codes.OK {
					return "ok", nil
				}
				return nil, status.Error(tc.code, "error")
			}

			_, err := interceptor(context.Background(), "request", info, handler)
			if tc.code == codes.OK {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}

			rec := httptest.NewRecorder()
			observability.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
			expected := fmt.Sprintf(`lgorch_grpc_requests_total{method=%q,status=%q} 1`, method, tc.code.String())
			assert.Contains(t, rec.Body.String(), expected)
		})
	}
}

// =============================================================================
// SERVER OPTIONS TESTS
// =============================================================================

func TestServerOptions(t *testing.T) {
	opts := ServerOptions(&TestLogger{})

	// Stats handler plus the interceptor chain.
	assert.Len(t, opts, 2)
}
