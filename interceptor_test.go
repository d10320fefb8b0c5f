/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package httpcore

import "testing"

func TestChainInvokesInterceptorsInOrder(t *testing.T) {
	var order []string
	first := InterceptorFunc(func(chain *Chain) (*Response, error) {
		order = append(order, "first")
		return chain.Proceed(chain.Request())
	})
	second := InterceptorFunc(func(chain *Chain) (*Response, error) {
		order = append(order, "second")
		return &Response{StatusCode: 200}, nil
	})

	req, err := NewRequest("GET", "http://example.test/a")
	if err != nil {
		t.Fatal(err)
	}
	chain := &Chain{interceptors: []Interceptor{first, second}, request: req}
	resp, err := chain.Proceed(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("StatusCode = %d", resp.StatusCode)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("interceptor order = %v", order)
	}
}

func TestChainExhaustedWithoutTerminalStage(t *testing.T) {
	req, err := NewRequest("GET", "http://example.test/a")
	if err != nil {
		t.Fatal(err)
	}
	chain := &Chain{interceptors: nil, request: req}
	_, err = chain.Proceed(req)
	if err != errChainExhausted {
		t.Fatalf("err = %v, want errChainExhausted", err)
	}
}

func TestProceedWithExchangeIsVisibleToNextStage(t *testing.T) {
	ex := &exchange{}
	var seen *exchange
	terminal := InterceptorFunc(func(chain *Chain) (*Response, error) {
		seen = chain.Exchange()
		return &Response{StatusCode: 200}, nil
	})
	req, err := NewRequest("GET", "http://example.test/a")
	if err != nil {
		t.Fatal(err)
	}
	chain := &Chain{interceptors: []Interceptor{terminal}, request: req}
	if _, err := chain.ProceedWithExchange(req, ex); err != nil {
		t.Fatal(err)
	}
	if seen != ex {
		t.Fatal("ProceedWithExchange must pass the exchange through to the next stage")
	}
}
